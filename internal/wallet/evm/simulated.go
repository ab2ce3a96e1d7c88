package evm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// NewSimulated builds a wallet on an in-process simulated chain. Every
// submitted transaction is mined immediately.
func NewSimulated(ctx context.Context, sim *simulated.Backend, prior []byte, opts Options) (*Wallet, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	w, err := New(ctx, sim.Client(), prior, opts)
	if err != nil {
		return nil, err
	}
	w.afterSend = func() { sim.Commit() }
	return w, nil
}
