// Package evmtest provides a simulated chain, handcrafted contracts and
// credentials for tests that exercise the wallet bridge end to end.
package evmtest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"AgneticGOD/internal/wallet"
)

// Contract creation code. Each runtime ignores its calldata.
var (
	// AlwaysTrue returns a single 32-byte word equal to 1.
	AlwaysTrue = common.FromHex("0x600a600c600039600a6000f3" + "600160005260206000f3")
	// AlwaysFalse returns a single zero word.
	AlwaysFalse = common.FromHex("0x6005600c60003960056000f3" + "60206000f3")
	// Reverting reverts every call with empty data.
	Reverting = common.FromHex("0x6005600c60003960056000f3" + "60006000fd")
)

// Passphrase is used for every test keystore.
const Passphrase = "correct horse battery staple"

var ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// NewBackend starts a simulated chain where each funded account holds 100 ETH.
func NewBackend(t testing.TB, funded ...common.Address) *simulated.Backend {
	t.Helper()
	alloc := types.GenesisAlloc{}
	for _, addr := range funded {
		alloc[addr] = types.Account{Balance: new(big.Int).Mul(big.NewInt(100), ether)}
	}
	sim := simulated.NewBackend(alloc, simulated.WithBlockGasLimit(30_000_000))
	t.Cleanup(func() { _ = sim.Close() })
	return sim
}

// Network describes the simulated chain so chain-id checks pass.
func Network(t testing.TB, sim *simulated.Backend) wallet.Network {
	t.Helper()
	id, err := sim.Client().ChainID(context.Background())
	require.NoError(t, err)
	return wallet.Network{ID: "simulated", ChainID: id.Uint64(), Description: "in-process simulated chain"}
}

// Credential creates a key and the encoded credential for it using light
// scrypt parameters.
func Credential(t testing.TB, network string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
	blob, err := keystore.EncryptKey(key, Passphrase, keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)
	raw, err := wallet.Credential{Network: network, Address: key.Address.Hex(), Keystore: blob}.Encode()
	require.NoError(t, err)
	return privateKey, raw
}

// Deploy mines a contract creation transaction signed by deployer and
// returns the new contract address.
func Deploy(t testing.TB, sim *simulated.Backend, deployer *ecdsa.PrivateKey, code []byte) common.Address {
	t.Helper()
	ctx := context.Background()
	client := sim.Client()

	from := crypto.PubkeyToAddress(deployer.PublicKey)
	nonce, err := client.PendingNonceAt(ctx, from)
	require.NoError(t, err)
	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	head, err := client.HeaderByNumber(ctx, nil)
	require.NoError(t, err)

	tip := big.NewInt(1_000_000_000)
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       500_000,
		Data:      code,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), deployer)
	require.NoError(t, err)
	require.NoError(t, client.SendTransaction(ctx, signed))
	sim.Commit()

	receipt, err := client.TransactionReceipt(ctx, signed.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	return receipt.ContractAddress
}
