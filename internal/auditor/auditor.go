package auditor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
	"ReasonChain/pkg/logger"
)

// Action 是被审计的动作：一个无参数的异步操作，结果类型由调用方决定。
type Action func(ctx context.Context) (any, error)

// AuditRecord 汇总一次完整的承诺-执行-揭示周期。
type AuditRecord struct {
	Reasoning   reasoning.Reasoning `json:"reasoning"`
	Commitment  protocol.Commitment `json:"commitment"`
	Reveal      protocol.Reveal     `json:"reveal"`
	Result      any                 `json:"result"`
	ExplorerURL string              `json:"explorer_url"`
	CommittedAt time.Time           `json:"committed_at"`
	ExecutedAt  time.Time           `json:"executed_at"`
	RevealedAt  time.Time           `json:"revealed_at"`
}

// defaultStorageBase 是未配置披露存储时使用的固定披露位置前缀。
const defaultStorageBase = "https://storage.reasonchain.dev/reasoning"

// Auditor 驱动承诺-揭示审计周期，是系统的业务核心。
// 核心不变量：承诺一旦创建即为意图的持久证据，与执行结果无关。
type Auditor struct {
	client          protocol.Client
	agentName       string
	storageBaseURI  string
	explorerBaseURL string
	ledger          *SessionLedger

	mu       sync.RWMutex
	identity string
	ready    bool
}

// Option 定义可选的 Auditor 配置。
type Option func(*Auditor)

// WithStorageBaseURI 设置完整推理的披露存储前缀。
// 披露位置为 {base}/{承诺哈希}；未设置时退回到固定默认前缀加承诺地址。
func WithStorageBaseURI(base string) Option {
	return func(a *Auditor) {
		a.storageBaseURI = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithExplorerBaseURL 设置区块浏览器的地址前缀。
func WithExplorerBaseURL(base string) Option {
	return func(a *Auditor) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			a.explorerBaseURL = trimmed
		}
	}
}

// New 创建一个 Auditor。创建后需调用 Initialize 绑定签名身份
// 才能执行审计动作；VerifyAction 不受此限制。
func New(client protocol.Client, agentName string, opts ...Option) *Auditor {
	a := &Auditor{
		client:          client,
		agentName:       agentName,
		explorerBaseURL: "https://explorer.reasonchain.dev/commitment",
		ledger:          NewSessionLedger(agentName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Initialize 绑定签名身份并按需注册智能体，之后 Auditor 进入就绪状态。
func (a *Auditor) Initialize(ctx context.Context, identity string, autoRegister bool) error {
	if a.client == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "未配置协议客户端")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "签名身份不能为空")
	}

	if autoRegister {
		registered, err := a.client.IsAgentRegistered(ctx, identity)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "查询智能体注册状态失败")
		}
		if !registered {
			if err := a.client.RegisterAgent(ctx, identity, a.agentName); err != nil {
				return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "注册智能体失败")
			}
			logger.Audit().Info("智能体注册成功",
				slog.String("identity", identity),
				slog.String("agent", a.agentName),
			)
		}
	}

	a.mu.Lock()
	a.identity = identity
	a.ready = true
	a.mu.Unlock()
	return nil
}

// Ready 返回 Auditor 是否已绑定签名身份。
func (a *Auditor) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// Ledger 返回进程内的会话账本。
func (a *Auditor) Ledger() *SessionLedger {
	return a.ledger
}

// ExecuteAudited 按承诺、执行、揭示的固定顺序审计一个动作。
//
// 任一步骤失败都立即向调用方传播且不做内部重试：承诺失败时没有任何
// 副作用；动作失败时承诺作为链上证据保留，原始错误原样返回；揭示
// 失败时调用方可凭已返回的承诺数据自行补揭示。只有三步全部成功才会
// 向会话账本追加记录。
func (a *Auditor) ExecuteAudited(ctx context.Context, r reasoning.Reasoning, action Action) (*AuditRecord, error) {
	a.mu.RLock()
	ready := a.ready
	identity := a.identity
	a.mu.RUnlock()
	if !ready {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "审计器尚未绑定签名身份")
	}
	if action == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "被审计的动作不能为空")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	trace := reasoning.ToTrace(r)

	// 第一步：提交承诺。失败时没有创建任何承诺，流程立即终止。
	commitment, err := a.client.CommitReasoning(ctx, identity, trace)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCommitFailure, err, "提交推理承诺失败")
	}
	committedAt := time.Now()

	// 第二步：执行调用方动作。无论成败，结算后立即取执行时间戳。
	result, actionErr := action(ctx)
	executedAt := time.Now()
	if actionErr != nil {
		// 承诺保留为"曾有意执行"的审计信号，错误原样上抛。
		logger.Audit().Warn("动作执行失败，承诺保留为审计证据",
			slog.String("agent", a.agentName),
			slog.String("kind", string(r.Kind)),
			slog.String("commitment", commitment.Address),
			slog.String("error", actionErr.Error()),
		)
		return nil, actionErr
	}

	// 第三步：揭示完整推理的存储位置。
	uri := a.revealLocation(commitment)
	reveal, err := a.client.RevealReasoning(ctx, identity, commitment.Address, uri)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRevealFailure, err, "揭示推理失败",
			xerrors.WithMetadata("commitment_address", commitment.Address))
	}
	revealedAt := time.Now()

	record := AuditRecord{
		Reasoning:   r.Clone(),
		Commitment:  commitment,
		Reveal:      reveal,
		Result:      result,
		ExplorerURL: a.explorerBaseURL + "/" + commitment.Address,
		CommittedAt: committedAt,
		ExecutedAt:  executedAt,
		RevealedAt:  revealedAt,
	}
	a.ledger.Append(record)

	logger.Audit().Info("审计周期完成",
		slog.String("agent", a.agentName),
		slog.String("kind", string(r.Kind)),
		slog.String("commitment", commitment.Address),
		slog.String("reveal_uri", reveal.URI),
	)
	return &record, nil
}

// VerifyAction 重新格式化决策依据并委托协议服务比对链上承诺。
// 该操作不依赖本地签名身份，未初始化也可调用。
func (a *Auditor) VerifyAction(ctx context.Context, commitmentAddress string, r reasoning.Reasoning) (bool, string, error) {
	if a.client == nil {
		return false, "", xerrors.New(xerrors.CodeNotInitialized, "未配置协议客户端")
	}
	if err := r.Validate(); err != nil {
		return false, "", err
	}
	result, err := a.client.VerifyReasoning(ctx, commitmentAddress, reasoning.ToTrace(r))
	if err != nil {
		return false, "", xerrors.Wrap(xerrors.CodeVerifyFailure, err, "校验承诺失败")
	}
	return result.Valid, result.Message, nil
}

// Accountability 返回当前身份的问责分值。
func (a *Auditor) Accountability(ctx context.Context) (*float64, error) {
	a.mu.RLock()
	identity := a.identity
	a.mu.RUnlock()
	if identity == "" {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "审计器尚未绑定签名身份")
	}
	return a.client.GetAccountability(ctx, identity)
}

// History 返回当前身份最近的承诺概要。
func (a *Auditor) History(ctx context.Context, limit int) ([]protocol.CommitmentSummary, error) {
	a.mu.RLock()
	identity := a.identity
	a.mu.RUnlock()
	if identity == "" {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "审计器尚未绑定签名身份")
	}
	if limit <= 0 {
		limit = 20
	}
	return a.client.GetAgentCommitments(ctx, identity, limit)
}

// revealLocation 构造完整推理的披露位置。
func (a *Auditor) revealLocation(commitment protocol.Commitment) string {
	if a.storageBaseURI != "" {
		return a.storageBaseURI + "/" + commitment.Hash
	}
	return defaultStorageBase + "/" + commitment.Address
}
