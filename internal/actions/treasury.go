package actions

import (
	"context"

	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/reasoning"
	"ReasonChain/internal/treasury"
)

// FeeCollectionExecutor 将费用领取包装为可审计的动作。
type FeeCollectionExecutor struct {
	claimer *treasury.FeeClaimer
}

// NewFeeCollectionExecutor 绑定费用金库客户端。
func NewFeeCollectionExecutor(claimer *treasury.FeeClaimer) *FeeCollectionExecutor {
	return &FeeCollectionExecutor{claimer: claimer}
}

func (e *FeeCollectionExecutor) Kind() reasoning.ActionKind {
	return reasoning.ActionFeeCollection
}

// Execute 先查询应收费用，再发起领取交易。
// 应收为零时直接返回，不发送空交易。
func (e *FeeCollectionExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	if e.claimer == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "未配置费用金库客户端")
	}

	owed, err := e.claimer.CheckFees(ctx)
	if err != nil {
		return nil, err
	}
	result := map[string]any{"owed_wei": owed.String()}
	if owed.Sign() == 0 {
		result["skipped"] = true
		return result, nil
	}

	txHash, err := e.claimer.Claim(ctx)
	if err != nil {
		return nil, err
	}
	result["tx_hash"] = txHash
	return result, nil
}

var _ Executor = (*FeeCollectionExecutor)(nil)

// BalanceCheckExecutor 把金库余额读取注册为再平衡前的查询动作。
type BalanceCheckExecutor struct {
	balances *treasury.BalanceService
	kind     reasoning.ActionKind
}

// NewBalanceCheckExecutor 将余额读取绑定到指定动作类别。
func NewBalanceCheckExecutor(balances *treasury.BalanceService, kind reasoning.ActionKind) *BalanceCheckExecutor {
	return &BalanceCheckExecutor{balances: balances, kind: kind}
}

func (e *BalanceCheckExecutor) Kind() reasoning.ActionKind {
	return e.kind
}

func (e *BalanceCheckExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	if e.balances == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "未配置余额服务")
	}
	balances, err := e.balances.Balances(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"balances":  balances,
		"total_wei": treasury.TotalWei(balances).String(),
	}, nil
}

var _ Executor = (*BalanceCheckExecutor)(nil)
