package reasoning

import (
	"reflect"
	"testing"
)

func sampleReasoning() Reasoning {
	return Reasoning{
		Kind:            ActionRebalance,
		Rationale:       "资产偏离目标权重",
		Risk:            RiskAssessment{Level: RiskLow, Factors: []string{"低波动", "高流动性"}},
		ExpectedOutcome: "恢复 60/40 配置",
		Portfolio: &PortfolioSnapshot{
			TotalValue: 125000,
			Positions:  map[string]float64{"ETH": 0.6, "USDC": 0.4},
		},
		Constraints: []string{"单笔不超过 1000"},
	}
}

func TestToTraceDeterministic(t *testing.T) {
	input := sampleReasoning()

	first := ToTrace(input)
	second := ToTrace(input)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("对相同输入应产生相同轨迹: %+v vs %+v", first, second)
	}
	if first.Action.Kind != "rebalance" {
		t.Fatalf("unexpected kind: %s", first.Action.Kind)
	}
	if first.Decision.Reasoning != input.Rationale {
		t.Fatalf("decision reasoning should repeat the rationale")
	}
	if first.Decision.ExpectedOutcome != input.ExpectedOutcome {
		t.Fatalf("unexpected expected outcome: %s", first.Decision.ExpectedOutcome)
	}
}

func TestToTraceDoesNotMutateInput(t *testing.T) {
	input := sampleReasoning()

	trace := ToTrace(input)
	factors := trace.Action.Params["risk_factors"].([]string)
	factors[0] = "mutated"
	positions := trace.Action.Params["portfolio_positions"].(map[string]float64)
	positions["ETH"] = 0

	if input.Risk.Factors[0] != "低波动" {
		t.Fatalf("输入的风险因素被篡改: %v", input.Risk.Factors)
	}
	if input.Portfolio.Positions["ETH"] != 0.6 {
		t.Fatalf("输入的持仓被篡改: %v", input.Portfolio.Positions)
	}
}

func TestConfidenceTable(t *testing.T) {
	cases := []struct {
		level RiskLevel
		want  int
	}{
		{RiskLow, 90},
		{RiskMedium, 70},
		{RiskHigh, 45},
		{RiskCritical, 20},
	}
	for _, tc := range cases {
		input := sampleReasoning()
		input.Risk.Level = tc.level
		trace := ToTrace(input)
		if trace.Decision.Confidence != tc.want {
			t.Fatalf("risk %s: confidence %d, want %d", tc.level, trace.Decision.Confidence, tc.want)
		}
	}
}

func TestToTraceOmitsAbsentOptionalFields(t *testing.T) {
	input := sampleReasoning()
	input.Portfolio = nil
	input.Constraints = nil

	trace := ToTrace(input)
	if _, ok := trace.Action.Params["portfolio_total_value"]; ok {
		t.Fatal("portfolio params should be absent")
	}
	if _, ok := trace.Action.Params["portfolio_positions"]; ok {
		t.Fatal("portfolio positions should be absent")
	}
	if _, ok := trace.Action.Params["constraints"]; ok {
		t.Fatal("constraints should be absent")
	}
	if _, ok := trace.Action.Params["risk_level"]; !ok {
		t.Fatal("risk level must always be present")
	}
}

func TestReasoningValidate(t *testing.T) {
	valid := sampleReasoning()
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badKind := sampleReasoning()
	badKind.Kind = ActionKind("liquidation")
	if err := badKind.Validate(); err == nil {
		t.Fatal("expected invalid kind to fail validation")
	}

	badRisk := sampleReasoning()
	badRisk.Risk.Level = RiskLevel("extreme")
	if err := badRisk.Validate(); err == nil {
		t.Fatal("expected invalid risk level to fail validation")
	}

	empty := sampleReasoning()
	empty.Rationale = ""
	if err := empty.Validate(); err == nil {
		t.Fatal("expected empty rationale to fail validation")
	}
}
