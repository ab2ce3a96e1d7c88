// Package wallet defines the custodial wallet contract used by the action
// registry, the persisted credential format, and the table of supported
// networks. The go-ethereum implementation lives in wallet/evm.
package wallet
