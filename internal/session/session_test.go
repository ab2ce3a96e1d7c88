package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/wallet"
	"AgneticGOD/internal/wallet/evm"
	"AgneticGOD/internal/wallet/evm/evmtest"
)

type stubBridge struct {
	cred wallet.Credential
}

func (b *stubBridge) Address() common.Address { return common.HexToAddress(b.cred.Address) }

func (b *stubBridge) ReadContract(context.Context, common.Address, abi.ABI, string, ...any) ([]any, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBridge) SendTransaction(context.Context, common.Address, []byte) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (b *stubBridge) WaitForReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBridge) ExportCredential() (wallet.Credential, error) { return b.cred, nil }

func newStub() *stubBridge {
	return &stubBridge{cred: wallet.Credential{
		Network:  "base-sepolia",
		Address:  "0x00000000000000000000000000000000000000b1",
		Keystore: []byte(`{"version":3,"n":1}`),
	}}
}

type countingStore struct {
	Store
	loadErr error
	saveErr error
	saves   int
}

func (s *countingStore) Load(ctx context.Context) ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx)
}

func (s *countingStore) Save(ctx context.Context, data []byte) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, data)
}

func TestBootstrapRestoresSameWalletFromFile(t *testing.T) {
	ctx := context.Background()
	sim := evmtest.NewBackend(t)
	opts := evm.Options{
		Network:    evmtest.Network(t, sim),
		Passphrase: evmtest.Passphrase,
		ScryptN:    keystore.LightScryptN,
		ScryptP:    keystore.LightScryptP,
	}
	build := func(prior []byte) (wallet.Bridge, error) {
		return evm.NewSimulated(ctx, sim, prior, opts)
	}
	store := NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt"))

	first, err := Bootstrap(ctx, store, build)
	require.NoError(t, err)
	_, err = os.Stat(store.Path())
	require.NoError(t, err, "credential must be written during bootstrap")

	second, err := Bootstrap(ctx, store, build)
	require.NoError(t, err)
	assert.Equal(t, first.Bridge().Address(), second.Bridge().Address())
}

func TestBootstrapPassesNilWhenNothingPersisted(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt"))
	var got []byte
	called := false
	_, err := Bootstrap(context.Background(), store, func(prior []byte) (wallet.Bridge, error) {
		called = true
		got = prior
		return newStub(), nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, got)
}

func TestBootstrapContinuesAfterReadFailure(t *testing.T) {
	store := &countingStore{
		Store:   NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt")),
		loadErr: errors.New("permission denied"),
	}
	var got []byte
	s, err := Bootstrap(context.Background(), store, func(prior []byte) (wallet.Bridge, error) {
		got = prior
		return newStub(), nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, store.saves)
	assert.NotNil(t, s.Bridge())
}

func TestBootstrapSaveFailureIsFatal(t *testing.T) {
	store := &countingStore{
		Store:   NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt")),
		saveErr: errors.New("read-only file system"),
	}
	_, err := Bootstrap(context.Background(), store, func([]byte) (wallet.Bridge, error) {
		return newStub(), nil
	})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodePersistenceWrite, xerrors.CodeOf(err))
	assert.True(t, xerrors.IsFatal(err))
}

func TestBootstrapBuildFailure(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt"))
	_, err := Bootstrap(context.Background(), store, func([]byte) (wallet.Bridge, error) {
		return nil, errors.New("rpc unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFlushOnlyWritesChanges(t *testing.T) {
	bridge := newStub()
	store := &countingStore{Store: NewFileStore(filepath.Join(t.TempDir(), "wallet_data.txt"))}

	s, err := Bootstrap(context.Background(), store, func([]byte) (wallet.Bridge, error) { return bridge, nil })
	require.NoError(t, err)
	require.Equal(t, 1, store.saves)

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, store.saves)

	bridge.cred.Keystore = []byte(`{"version":3,"n":2}`)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, store.saves)

	raw, err := store.Load(context.Background())
	require.NoError(t, err)
	cred, err := wallet.DecodeCredential(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3,"n":2}`, string(cred.Keystore))
}

func TestFileStoreMissingAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "wallet_data.txt"))

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, store.Save(ctx, []byte("one")))
	require.NoError(t, store.Save(ctx, []byte("two")))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultFilePath, NewFileStore("").Path())
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "")
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, store.Save(ctx, []byte(`{"address":"0x1"}`)))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"address":"0x1"}`, string(data))

	stored, err := mr.Get(DefaultRedisKey)
	require.NoError(t, err)
	assert.Equal(t, `{"address":"0x1"}`, stored)
	assert.Zero(t, mr.TTL(DefaultRedisKey))
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(mr.Addr(), "custom:key")
	mr.Close()

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredential)
}
