package reasoning

import (
	xerrors "ReasonChain/internal/errors"
)

// ActionKind 表示被审计动作的类别，是一个封闭枚举。
type ActionKind string

const (
	ActionRebalance           ActionKind = "rebalance"
	ActionTransfer            ActionKind = "transfer"
	ActionAllocation          ActionKind = "allocation"
	ActionFeeCollection       ActionKind = "fee_collection"
	ActionYieldDeployment     ActionKind = "yield_deployment"
	ActionPayment             ActionKind = "payment"
	ActionSwap                ActionKind = "swap"
	ActionEmergencyWithdrawal ActionKind = "emergency_withdrawal"
)

// IsValidActionKind 检查给定的动作类别是否为支持的枚举值。
func IsValidActionKind(kind ActionKind) bool {
	switch kind {
	case ActionRebalance, ActionTransfer, ActionAllocation, ActionFeeCollection,
		ActionYieldDeployment, ActionPayment, ActionSwap, ActionEmergencyWithdrawal:
		return true
	default:
		return false
	}
}

// RiskLevel 表示风险评估的等级，是一个封闭枚举。
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValidRiskLevel 检查给定的风险等级是否为支持的枚举值。
func IsValidRiskLevel(level RiskLevel) bool {
	switch level {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// confidenceByRisk 是风险等级到决策置信度的固定映射。
var confidenceByRisk = map[RiskLevel]int{
	RiskLow:      90,
	RiskMedium:   70,
	RiskHigh:     45,
	RiskCritical: 20,
}

// Confidence 返回风险等级对应的置信度分值。
func (l RiskLevel) Confidence() int {
	return confidenceByRisk[l]
}

// RiskAssessment 描述一次动作的风险评估。
type RiskAssessment struct {
	Level   RiskLevel `json:"level"`
	Factors []string  `json:"factors,omitempty"`
}

// PortfolioSnapshot 是动作发起时的资产组合快照。
type PortfolioSnapshot struct {
	TotalValue float64            `json:"total_value"`
	Positions  map[string]float64 `json:"positions,omitempty"`
}

// Reasoning 是调用方在执行动作之前提交的决策依据，提交后不可变更。
type Reasoning struct {
	Kind            ActionKind         `json:"kind"`
	Rationale       string             `json:"rationale"`
	Risk            RiskAssessment     `json:"risk"`
	ExpectedOutcome string             `json:"expected_outcome"`
	Portfolio       *PortfolioSnapshot `json:"portfolio,omitempty"`
	Constraints     []string           `json:"constraints,omitempty"`
}

// Validate 校验决策依据是否满足数据模型约束。
func (r Reasoning) Validate() error {
	if !IsValidActionKind(r.Kind) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的动作类别: "+string(r.Kind))
	}
	if !IsValidRiskLevel(r.Risk.Level) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的风险等级: "+string(r.Risk.Level))
	}
	if r.Rationale == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "决策理由不能为空")
	}
	return nil
}

// Clone 返回决策依据的深拷贝。
func (r Reasoning) Clone() Reasoning {
	clone := r
	clone.Risk.Factors = append([]string(nil), r.Risk.Factors...)
	clone.Constraints = append([]string(nil), r.Constraints...)
	if r.Portfolio != nil {
		snapshot := PortfolioSnapshot{TotalValue: r.Portfolio.TotalValue}
		if r.Portfolio.Positions != nil {
			snapshot.Positions = make(map[string]float64, len(r.Portfolio.Positions))
			for symbol, weight := range r.Portfolio.Positions {
				snapshot.Positions[symbol] = weight
			}
		}
		clone.Portfolio = &snapshot
	}
	return clone
}
