package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"

	"AgneticGOD/internal/wallet"
	"AgneticGOD/pkg/logger"
)

// Backend is the subset of the go-ethereum client API the wallet needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Options controls key handling and receipt polling.
type Options struct {
	Network    wallet.Network
	Passphrase string
	// ScryptN and ScryptP tune keystore encryption; zero selects the
	// go-ethereum standard parameters.
	ScryptN      int
	ScryptP      int
	PollInterval time.Duration
	// GasMargin is added to the estimated gas in percent.
	GasMargin uint64
}

// Wallet implements wallet.Bridge on an EVM JSON-RPC endpoint.
type Wallet struct {
	backend   Backend
	closer    func()
	afterSend func()

	network  wallet.Network
	chainID  *big.Int
	key      *keystore.Key
	keystore []byte

	pollInterval time.Duration
	gasMargin    uint64
	log          *slog.Logger

	// mu serializes nonce allocation and submission.
	mu sync.Mutex
}

var _ wallet.Bridge = (*Wallet)(nil)

// Dial connects to rpcURL and builds the wallet from prior, the bytes
// previously produced by Credential.Encode. A nil prior creates a fresh key.
func Dial(ctx context.Context, rpcURL string, prior []byte, opts Options) (*Wallet, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("wallet rpc url is empty")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	w, err := New(ctx, client, prior, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closer = client.Close
	return w, nil
}

// New builds a wallet on an existing backend.
func New(ctx context.Context, backend Backend, prior []byte, opts Options) (*Wallet, error) {
	if backend == nil {
		return nil, errors.New("wallet backend is nil")
	}
	if opts.Passphrase == "" {
		return nil, errors.New("wallet passphrase is empty")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if opts.Network.ChainID != 0 && chainID.Uint64() != opts.Network.ChainID {
		return nil, fmt.Errorf("rpc endpoint serves chain %s but network %s expects %d",
			chainID, opts.Network.ID, opts.Network.ChainID)
	}

	w := &Wallet{
		backend:      backend,
		network:      opts.Network,
		chainID:      chainID,
		pollInterval: opts.PollInterval,
		gasMargin:    opts.GasMargin,
		log:          logger.Component("wallet"),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	if w.gasMargin == 0 {
		w.gasMargin = 20
	}

	if prior == nil {
		if err := w.generate(opts); err != nil {
			return nil, err
		}
		w.log.Info("created new wallet", slog.String("address", w.key.Address.Hex()), slog.String("network", opts.Network.ID))
		return w, nil
	}
	if err := w.restore(prior, opts); err != nil {
		return nil, err
	}
	w.log.Info("restored wallet", slog.String("address", w.key.Address.Hex()), slog.String("network", opts.Network.ID))
	return w, nil
}

func (w *Wallet) generate(opts Options) error {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate wallet key: %w", err)
	}
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
	scryptN, scryptP := opts.ScryptN, opts.ScryptP
	if scryptN <= 0 || scryptP <= 0 {
		scryptN, scryptP = keystore.StandardScryptN, keystore.StandardScryptP
	}
	blob, err := keystore.EncryptKey(key, opts.Passphrase, scryptN, scryptP)
	if err != nil {
		return fmt.Errorf("encrypt wallet key: %w", err)
	}
	w.key = key
	w.keystore = blob
	return nil
}

func (w *Wallet) restore(prior []byte, opts Options) error {
	cred, err := wallet.DecodeCredential(prior)
	if err != nil {
		return err
	}
	if cred.Network != "" && opts.Network.ID != "" && cred.Network != opts.Network.ID {
		return fmt.Errorf("wallet credential belongs to network %s, not %s", cred.Network, opts.Network.ID)
	}
	key, err := keystore.DecryptKey(cred.Keystore, opts.Passphrase)
	if err != nil {
		return fmt.Errorf("decrypt wallet key: %w", err)
	}
	if cred.Address != "" && common.HexToAddress(cred.Address) != key.Address {
		return fmt.Errorf("wallet credential address %s does not match key %s", cred.Address, key.Address.Hex())
	}
	w.key = key
	w.keystore = append([]byte(nil), cred.Keystore...)
	return nil
}

// Address returns the wallet account.
func (w *Wallet) Address() common.Address {
	return w.key.Address
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// ReadContract packs the call, executes it against the latest block and
// unpacks the outputs.
func (w *Wallet) ReadContract(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := w.backend.CallContract(ctx, gethcore.CallMsg{From: w.key.Address, To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// SendTransaction builds, signs and submits an EIP-1559 transaction.
func (w *Wallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.key.Address
	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query nonce: %w", err)
	}
	tipCap, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := w.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * w.gasMargin / 100

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(w.chainID), w.key.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("submit transaction: %w", err)
	}
	if w.afterSend != nil {
		w.afterSend()
	}

	w.log.Info("transaction submitted",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas))
	return signed.Hash(), nil
}

// WaitForReceipt polls for the receipt until it is available or ctx ends.
// Query errors other than NotFound are logged and polling continues, since the
// transaction is already submitted and may still be mined.
func (w *Wallet) WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != coretypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", wallet.ErrReverted, hash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) && ctx.Err() == nil {
			w.log.Warn("query receipt failed, retrying",
				slog.String("tx_hash", hash.Hex()),
				slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ExportCredential returns the encrypted key together with its network. The
// bytes are stable for the lifetime of the wallet.
func (w *Wallet) ExportCredential() (wallet.Credential, error) {
	if w.key == nil || len(w.keystore) == 0 {
		return wallet.Credential{}, errors.New("wallet has no key material")
	}
	return wallet.Credential{
		Network:  w.network.ID,
		Address:  w.key.Address.Hex(),
		Keystore: append([]byte(nil), w.keystore...),
	}, nil
}

// Close releases the RPC connection when the wallet owns one.
func (w *Wallet) Close() {
	if w.closer != nil {
		w.closer()
		w.closer = nil
	}
}
