// Package evm implements wallet.Bridge with go-ethereum. Keys are held as
// encrypted keystore v3 documents, transactions are EIP-1559 dynamic fee
// transactions, and receipts are polled until mined.
package evm
