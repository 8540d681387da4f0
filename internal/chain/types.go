package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can read balances and submit contract calls
// against different networks uniformly.
type Client interface {
	Name() string
	Symbol() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	ContractBackend() bind.ContractBackend
	Close()
}
