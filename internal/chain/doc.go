// Package chain houses blockchain connectivity utilities: RPC clients for
// EVM compatible networks, multi-chain configuration helpers, and the
// registry that hands out clients by human readable name. Higher layers use
// it to read treasury balances and to submit fee claim transactions without
// caring which concrete network they talk to.
package chain
