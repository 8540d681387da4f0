package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ReasonChain/internal/chain"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Symbol string
	Notes  string
}

// Client implements the chain.Client interface for EVM compatible chains.
type Client struct {
	name      string
	symbol    string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   bind.ContractBackend
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:      cfg.Name,
		symbol:    strings.ToUpper(strings.TrimSpace(cfg.Symbol)),
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, backend *backends.SimulatedBackend) *Client {
	return &Client{
		name:    name,
		symbol:  "ETH",
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		notes:   "simulated backend",
	}
}

var _ chain.Client = (*Client)(nil)

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// Symbol returns the native asset symbol used in balance reports.
func (c *Client) Symbol() string {
	if c.symbol == "" {
		return "ETH"
	}
	return c.symbol
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (chain.ChainSnapshot, error) {
	if c == nil {
		return chain.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	if c.eth != nil {
		chainID, err := c.eth.ChainID(ctx)
		if err != nil {
			return chain.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		blockNumber, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return chain.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return chain.ChainSnapshot{
			ChainID:     toHexBig(chainID),
			BlockNumber: fmt.Sprintf("0x%x", blockNumber),
			Notes:       c.notes,
		}, nil
	}

	if c.backend == nil {
		return chain.ChainSnapshot{}, errors.New("客户端缺少链访问后端")
	}
	if c.chainID == nil {
		return chain.ChainSnapshot{}, errors.New("未配置链 ID")
	}

	blockReader, ok := c.backend.(interface {
		BlockByNumber(context.Context, *big.Int) (*coretypes.Block, error)
	})
	if !ok {
		return chain.ChainSnapshot{}, errors.New("后端不支持区块查询")
	}
	block, err := blockReader.BlockByNumber(ctx, nil)
	if err != nil {
		return chain.ChainSnapshot{}, fmt.Errorf("获取区块信息失败: %w", err)
	}

	return chain.ChainSnapshot{
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", block.NumberU64()),
		Notes:       c.notes,
	}, nil
}

// BalanceAt reads the native asset balance of the given address.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return nil, errors.New("余额查询需要提供地址")
	}
	backend := c.balanceBackend()
	if backend == nil {
		return nil, errors.New("当前客户端不支持余额查询")
	}
	balance, err := backend.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// PendingNonceAt reads the pending transaction count of the given address.
func (c *Client) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return 0, errors.New("交易计数查询需要提供地址")
	}
	backend := c.nonceBackend()
	if backend == nil {
		return 0, errors.New("当前客户端不支持交易计数查询")
	}
	nonce, err := backend.PendingNonceAt(ctx, common.HexToAddress(addr))
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// ChainID returns the chain identifier used for transaction signing.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	if c.eth == nil {
		return nil, errors.New("未配置链 ID")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// ContractBackend exposes the backend used for contract calls and
// transaction submission.
func (c *Client) ContractBackend() bind.ContractBackend {
	if c.backend != nil {
		return c.backend
	}
	if c.eth != nil {
		return c.eth
	}
	return nil
}

func (c *Client) balanceBackend() interface {
	BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error)
} {
	if backend, ok := c.backend.(interface {
		BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error)
	}); ok {
		return backend
	}
	if c.eth != nil {
		return c.eth
	}
	return nil
}

func (c *Client) nonceBackend() interface {
	PendingNonceAt(context.Context, common.Address) (uint64, error)
} {
	if backend, ok := c.backend.(interface {
		PendingNonceAt(context.Context, common.Address) (uint64, error)
	}); ok {
		return backend
	}
	if c.eth != nil {
		return c.eth
	}
	return nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
