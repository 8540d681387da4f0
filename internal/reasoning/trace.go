package reasoning

// Trace 是外部协议期望的推理轨迹结构，承诺哈希即由它计算。
type Trace struct {
	Action   TraceAction   `json:"action"`
	Decision TraceDecision `json:"decision"`
}

// TraceAction 描述动作本身及其参数。
type TraceAction struct {
	Kind      string         `json:"kind"`
	Rationale string         `json:"rationale"`
	Params    map[string]any `json:"params"`
}

// TraceDecision 描述决策的置信度与预期结果。
type TraceDecision struct {
	Confidence      int    `json:"confidence"`
	Reasoning       string `json:"reasoning"`
	ExpectedOutcome string `json:"expected_outcome"`
}

// ToTrace 将决策依据转换为协议轨迹。转换是纯函数：不修改输入，
// 相同输入总是产生相同输出。可选字段仅在存在时写入参数表。
func ToTrace(r Reasoning) Trace {
	params := map[string]any{
		"risk_level":   string(r.Risk.Level),
		"risk_factors": append([]string(nil), r.Risk.Factors...),
	}
	if r.Portfolio != nil {
		params["portfolio_total_value"] = r.Portfolio.TotalValue
		positions := make(map[string]float64, len(r.Portfolio.Positions))
		for symbol, weight := range r.Portfolio.Positions {
			positions[symbol] = weight
		}
		params["portfolio_positions"] = positions
	}
	if len(r.Constraints) > 0 {
		params["constraints"] = append([]string(nil), r.Constraints...)
	}

	return Trace{
		Action: TraceAction{
			Kind:      string(r.Kind),
			Rationale: r.Rationale,
			Params:    params,
		},
		Decision: TraceDecision{
			Confidence:      r.Risk.Level.Confidence(),
			Reasoning:       r.Rationale,
			ExpectedOutcome: r.ExpectedOutcome,
		},
	}
}
