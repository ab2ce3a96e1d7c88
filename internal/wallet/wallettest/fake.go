// Package wallettest provides an in-memory wallet.Bridge for tests that do
// not need a chain.
package wallettest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"AgneticGOD/internal/wallet"
)

// Sent records one submitted transaction.
type Sent struct {
	To     common.Address
	Method string
	Data   []byte
	Hash   common.Hash
}

// Fake is a scriptable bridge. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	address common.Address
	paid    map[common.Address]bool

	// ReadErr, SendErr and WaitErr force the matching call to fail.
	ReadErr error
	SendErr error
	WaitErr error
	// BlockReceipts makes WaitForReceipt wait for ctx cancellation.
	BlockReceipts bool

	reads int
	sent  []Sent
	waits int
	cred  wallet.Credential
}

var _ wallet.Bridge = (*Fake)(nil)

// New creates a fake wallet with a fixed address.
func New() *Fake {
	addr := common.HexToAddress("0x000000000000000000000000000000000000c0de")
	return &Fake{
		address: addr,
		paid:    make(map[common.Address]bool),
		cred: wallet.Credential{
			Network:  "fake",
			Address:  addr.Hex(),
			Keystore: []byte(`{"fake":true}`),
		},
	}
}

// SetPaid marks user as having deposited.
func (f *Fake) SetPaid(user common.Address, paid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid[user] = paid
}

// Address implements wallet.Bridge.
func (f *Fake) Address() common.Address { return f.address }

// ReadContract answers check_deposit from the paid table.
func (f *Fake) ReadContract(ctx context.Context, _ common.Address, _ abi.ABI, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	if method != "check_deposit" || len(args) != 1 {
		return nil, fmt.Errorf("fake bridge cannot answer %s", method)
	}
	user, ok := args[0].(common.Address)
	if !ok {
		return nil, errors.New("fake bridge expects an address argument")
	}
	return []any{f.paid[user]}, nil
}

// SendTransaction records the call and returns a deterministic hash.
func (f *Fake) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return common.Hash{}, f.SendErr
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(len(f.sent)))
	hash := crypto.Keccak256Hash(nonce[:], data)
	f.sent = append(f.sent, Sent{To: to, Method: methodName(data), Data: append([]byte(nil), data...), Hash: hash})
	return hash, nil
}

// WaitForReceipt returns a successful receipt unless configured otherwise.
func (f *Fake) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.waits++
	block, waitErr := f.BlockReceipts, f.WaitErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

// ExportCredential implements wallet.Bridge.
func (f *Fake) ExportCredential() (wallet.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, nil
}

// Reads reports how many contract reads were made.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Sent returns every submitted transaction.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Waits reports how many receipt waits were started.
func (f *Fake) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

var selectors = map[string]string{
	"swap":       "swap(address,address)",
	"confiscate": "confiscate(address,address)",
}

func methodName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	for name, sig := range selectors {
		if string(crypto.Keccak256([]byte(sig))[:4]) == string(data[:4]) {
			return name
		}
	}
	return ""
}
