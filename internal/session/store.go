package session

import (
	"context"
	"errors"
)

// ErrNoCredential is returned by Load when nothing has been persisted yet.
var ErrNoCredential = errors.New("no wallet credential persisted")

// Store persists the opaque wallet credential between process lifetimes.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}
