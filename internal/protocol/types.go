package protocol

import "context"

// Commitment 是外部协议对一条推理轨迹的链上承诺。对本系统而言它是
// 不可变的凭证：无论后续执行是否成功，承诺本身都持久存在。
type Commitment struct {
	Hash    string `json:"hash"`
	Address string `json:"address"`
	TxRef   string `json:"tx_ref"`
}

// Reveal 是承诺被补充完整披露位置后的揭示结果。
type Reveal struct {
	URI   string `json:"uri"`
	TxRef string `json:"tx_ref"`
}

// VerifyResult 是链上承诺校验的结果。校验不通过不是错误，
// 而是返回 Valid=false 与可读的说明。
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// CommitmentSummary 描述历史承诺的概要信息。
type CommitmentSummary struct {
	Hash        string `json:"hash"`
	Address     string `json:"address"`
	RevealedURI string `json:"revealed_uri,omitempty"`
	CommittedAt int64  `json:"committed_at"`
}

// Client 定义外部承诺-揭示协议服务必须提供的能力。哈希计算、
// 承诺存储与链上状态迁移全部发生在协议服务一侧。轨迹载荷由
// reasoning 包生成，客户端原样转发，不做解释。
type Client interface {
	IsAgentRegistered(ctx context.Context, identity string) (bool, error)
	RegisterAgent(ctx context.Context, identity, name string) error
	CommitReasoning(ctx context.Context, identity string, trace any) (Commitment, error)
	RevealReasoning(ctx context.Context, identity, commitmentAddress, uri string) (Reveal, error)
	VerifyReasoning(ctx context.Context, commitmentAddress string, trace any) (VerifyResult, error)
	GetAccountability(ctx context.Context, identity string) (*float64, error)
	GetAgentCommitments(ctx context.Context, identity string, limit int) ([]CommitmentSummary, error)
}
