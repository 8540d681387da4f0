package treasury

import (
	"context"
	"math/big"
	"strings"

	"ReasonChain/internal/chain/provider"
	xerrors "ReasonChain/internal/errors"
)

// ChainBalance 是单条链上金库地址的余额读取结果。
// 读取失败时 Error 字段携带原因，不影响其他链的结果。
type ChainBalance struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Wei     string `json:"wei,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BalanceService 跨注册表中的所有链读取金库余额。
type BalanceService struct {
	registry *provider.Registry
	wallets  map[string]string
}

// NewBalanceService 创建余额服务。wallets 以链名为键，值为金库地址。
func NewBalanceService(registry *provider.Registry, wallets map[string]string) *BalanceService {
	copied := make(map[string]string, len(wallets))
	for name, addr := range wallets {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			copied[name] = trimmed
		}
	}
	return &BalanceService{registry: registry, wallets: copied}
}

// Balances 依次读取每条已配置金库地址的链上余额。
// 单条链失败只标记该链的 Error 字段，余下的链继续读取。
func (s *BalanceService) Balances(ctx context.Context) ([]ChainBalance, error) {
	if s == nil || s.registry == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "余额服务未初始化")
	}

	var out []ChainBalance
	for _, name := range s.registry.Chains() {
		address, ok := s.wallets[name]
		if !ok {
			continue
		}
		client, ok := s.registry.Client(name)
		if !ok {
			continue
		}

		entry := ChainBalance{
			Chain:   name,
			Address: address,
			Symbol:  client.Symbol(),
		}
		balance, err := client.BalanceAt(ctx, address)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Wei = balance.String()
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置任何金库地址")
	}
	return out, nil
}

// TotalWei 汇总所有成功读取的余额。
func TotalWei(balances []ChainBalance) *big.Int {
	total := new(big.Int)
	for _, b := range balances {
		if b.Wei == "" {
			continue
		}
		if v, ok := new(big.Int).SetString(b.Wei, 10); ok {
			total.Add(total, v)
		}
	}
	return total
}
