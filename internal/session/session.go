package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/wallet"
	"AgneticGOD/pkg/logger"
)

// BuildFunc constructs the wallet bridge. prior is nil when no credential
// could be loaded, in which case a new wallet is created.
type BuildFunc func(prior []byte) (wallet.Bridge, error)

// Session owns the process-wide wallet and the store it is persisted to.
type Session struct {
	store  Store
	bridge wallet.Bridge

	mu      sync.Mutex
	written []byte
}

// Bootstrap restores the wallet: load the prior credential, build the bridge,
// and persist the exported credential before returning. A load failure only
// logs a warning; a save failure aborts startup.
func Bootstrap(ctx context.Context, store Store, build BuildFunc) (*Session, error) {
	if store == nil || build == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "session store and wallet builder are required")
	}
	log := logger.Component("session")

	prior, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCredential):
		log.Info("no persisted wallet found, a new wallet will be created")
		prior = nil
	case err != nil:
		readErr := xerrors.Wrap(xerrors.CodePersistenceRead, err, "")
		log.Warn("could not read persisted wallet, a new wallet will be created",
			slog.String("code", string(readErr.Code())), slog.Any("error", err))
		prior = nil
	}

	bridge, err := build(prior)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "build wallet")
	}

	s := &Session{store: store, bridge: bridge}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	log.Info("wallet ready", slog.String("address", bridge.Address().Hex()))
	return s, nil
}

// Bridge returns the wallet built during Bootstrap.
func (s *Session) Bridge() wallet.Bridge {
	return s.bridge
}

// Flush persists the credential again if it changed since the last write.
func (s *Session) Flush(ctx context.Context) error {
	return s.persist(ctx)
}

func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.bridge.ExportCredential()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceWrite, err, "export wallet credential")
	}
	raw, err := cred.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceWrite, err, "encode wallet credential")
	}
	if s.written != nil && bytes.Equal(raw, s.written) {
		return nil
	}
	if err := s.store.Save(ctx, raw); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceWrite, err, "")
	}
	s.written = raw
	return nil
}
