package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bridge is the single custodial wallet the agent acts through. One Bridge
// exists per process and is shared by every front end.
type Bridge interface {
	// Address returns the wallet's own account.
	Address() common.Address
	// ReadContract performs a read-only call and returns the decoded outputs.
	ReadContract(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
	// SendTransaction signs and submits a call to the given contract.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	// WaitForReceipt blocks until the transaction is mined or ctx ends. A
	// reverted transaction is reported as an error together with its receipt.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// ExportCredential returns the material needed to rebuild the same wallet.
	ExportCredential() (Credential, error)
}

// ErrReverted is returned by WaitForReceipt when the transaction was mined
// with a failed status.
var ErrReverted = errors.New("transaction reverted")

// Credential is the persisted form of the wallet. Keystore holds an encrypted
// go-ethereum keystore v3 document; it is opaque to everything but the bridge.
type Credential struct {
	Network  string          `json:"network"`
	Address  string          `json:"address"`
	Keystore json.RawMessage `json:"keystore"`
}

// Encode serializes the credential for a session store.
func (c Credential) Encode() ([]byte, error) {
	if len(c.Keystore) == 0 {
		return nil, errors.New("credential has no keystore")
	}
	return json.Marshal(c)
}

// DecodeCredential parses bytes written by Encode.
func DecodeCredential(raw []byte) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, fmt.Errorf("decode wallet credential: %w", err)
	}
	if len(cred.Keystore) == 0 {
		return Credential{}, errors.New("wallet credential has no keystore")
	}
	if cred.Address != "" && !common.IsHexAddress(cred.Address) {
		return Credential{}, fmt.Errorf("wallet credential has malformed address %q", cred.Address)
	}
	return cred, nil
}
