package auditor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
)

// fakeClient 记录每个协议方法的调用次数，并按配置注入失败。
type fakeClient struct {
	mu sync.Mutex

	registered bool
	commitErr  error
	revealErr  error
	verifyErr  error
	verifyOut  protocol.VerifyResult

	isRegisteredCalls int
	registerCalls     int
	commitCalls       int
	revealCalls       int
	verifyCalls       int

	lastRevealURI  string
	lastRevealAddr string
}

func (f *fakeClient) IsAgentRegistered(ctx context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isRegisteredCalls++
	return f.registered, nil
}

func (f *fakeClient) RegisterAgent(ctx context.Context, identity, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	f.registered = true
	return nil
}

func (f *fakeClient) CommitReasoning(ctx context.Context, identity string, trace any) (protocol.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if f.commitErr != nil {
		return protocol.Commitment{}, f.commitErr
	}
	return protocol.Commitment{
		Hash:    "0xabcdef0123456789abcdef0123456789",
		Address: "0x1111222233334444",
		TxRef:   "0xtx-commit",
	}, nil
}

func (f *fakeClient) RevealReasoning(ctx context.Context, identity, commitmentAddress, uri string) (protocol.Reveal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealCalls++
	f.lastRevealURI = uri
	f.lastRevealAddr = commitmentAddress
	if f.revealErr != nil {
		return protocol.Reveal{}, f.revealErr
	}
	return protocol.Reveal{URI: uri, TxRef: "0xtx-reveal"}, nil
}

func (f *fakeClient) VerifyReasoning(ctx context.Context, commitmentAddress string, trace any) (protocol.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return protocol.VerifyResult{}, f.verifyErr
	}
	return f.verifyOut, nil
}

func (f *fakeClient) GetAccountability(ctx context.Context, identity string) (*float64, error) {
	score := 0.92
	return &score, nil
}

func (f *fakeClient) GetAgentCommitments(ctx context.Context, identity string, limit int) ([]protocol.CommitmentSummary, error) {
	return nil, nil
}

var _ protocol.Client = (*fakeClient)(nil)

func sampleReasoning() reasoning.Reasoning {
	return reasoning.Reasoning{
		Kind:      reasoning.ActionRebalance,
		Rationale: "稳定币仓位偏离目标配比，需要再平衡",
		Risk: reasoning.RiskAssessment{
			Level:   reasoning.RiskLow,
			Factors: []string{"市场波动较小"},
		},
		ExpectedOutcome: "仓位回到 60/40 配比",
	}
}

func newReadyAuditor(t *testing.T, client *fakeClient, opts ...Option) *Auditor {
	t.Helper()
	a := New(client, "test-agent", opts...)
	if err := a.Initialize(context.Background(), "0xidentity", false); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	return a
}

func TestExecuteAuditedRequiresInitialize(t *testing.T) {
	client := &fakeClient{}
	a := New(client, "test-agent")

	executed := false
	_, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		executed = true
		return nil, nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeNotInitialized {
		t.Fatalf("期望 NOT_INITIALIZED，得到: %v", err)
	}
	if executed {
		t.Fatal("未初始化时不应执行动作")
	}
	if client.commitCalls != 0 || client.revealCalls != 0 {
		t.Fatalf("未初始化时不应有外部调用: commit=%d reveal=%d", client.commitCalls, client.revealCalls)
	}
}

func TestExecuteAuditedCommitFailure(t *testing.T) {
	client := &fakeClient{commitErr: errors.New("链上提交被拒绝")}
	a := newReadyAuditor(t, client)

	executed := false
	_, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		executed = true
		return nil, nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeCommitFailure {
		t.Fatalf("期望 COMMIT_FAILURE，得到: %v", err)
	}
	if !errors.Is(err, client.commitErr) {
		t.Fatal("承诺失败应保留原始错误链")
	}
	if executed {
		t.Fatal("承诺失败后不应执行动作")
	}
	if client.revealCalls != 0 {
		t.Fatal("承诺失败后不应尝试揭示")
	}
	if a.Ledger().Len() != 0 {
		t.Fatal("承诺失败不应写入账本")
	}
}

func TestExecuteAuditedActionFailurePreservesCommitment(t *testing.T) {
	client := &fakeClient{}
	a := newReadyAuditor(t, client)

	actionErr := errors.New("余额不足，转账失败")
	_, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		return nil, actionErr
	})
	if err != actionErr {
		t.Fatalf("动作错误应原样上抛，得到: %v", err)
	}
	if client.commitCalls != 1 {
		t.Fatalf("动作失败前应已提交承诺一次: %d", client.commitCalls)
	}
	if client.revealCalls != 0 {
		t.Fatal("动作失败后不应尝试揭示")
	}
	if a.Ledger().Len() != 0 {
		t.Fatal("失败周期不应写入账本")
	}
}

func TestExecuteAuditedRevealFailure(t *testing.T) {
	client := &fakeClient{revealErr: errors.New("存储服务不可达")}
	a := newReadyAuditor(t, client)

	_, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeRevealFailure {
		t.Fatalf("期望 REVEAL_FAILURE，得到: %v", err)
	}
	if client.commitCalls != 1 || client.revealCalls != 1 {
		t.Fatalf("调用次数不符: commit=%d reveal=%d", client.commitCalls, client.revealCalls)
	}
	if a.Ledger().Len() != 0 {
		t.Fatal("揭示失败不应写入账本")
	}
}

func TestExecuteAuditedSuccess(t *testing.T) {
	client := &fakeClient{}
	a := newReadyAuditor(t, client, WithStorageBaseURI("https://ipfs.example.dev/reasoning/"))

	record, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		return map[string]any{"tx": "0xaction"}, nil
	})
	if err != nil {
		t.Fatalf("审计周期失败: %v", err)
	}
	if client.commitCalls != 1 || client.revealCalls != 1 {
		t.Fatalf("调用次数不符: commit=%d reveal=%d", client.commitCalls, client.revealCalls)
	}

	wantURI := "https://ipfs.example.dev/reasoning/" + record.Commitment.Hash
	if record.Reveal.URI != wantURI {
		t.Fatalf("揭示位置不符: got=%s want=%s", record.Reveal.URI, wantURI)
	}
	if !strings.Contains(record.ExplorerURL, record.Commitment.Address) {
		t.Fatalf("浏览器链接应包含承诺地址: %s", record.ExplorerURL)
	}
	if record.CommittedAt.After(record.ExecutedAt) || record.ExecutedAt.After(record.RevealedAt) {
		t.Fatal("时间戳顺序应为 承诺 <= 执行 <= 揭示")
	}
	if a.Ledger().Len() != 1 {
		t.Fatalf("成功周期应写入账本一条记录: %d", a.Ledger().Len())
	}
}

func TestRevealLocationDefaultsToCommitmentAddress(t *testing.T) {
	client := &fakeClient{}
	a := newReadyAuditor(t, client)

	record, err := a.ExecuteAudited(context.Background(), sampleReasoning(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("审计周期失败: %v", err)
	}
	want := defaultStorageBase + "/" + record.Commitment.Address
	if client.lastRevealURI != want {
		t.Fatalf("默认揭示位置不符: got=%s want=%s", client.lastRevealURI, want)
	}
}

func TestInitializeAutoRegister(t *testing.T) {
	client := &fakeClient{}
	a := New(client, "test-agent")
	if err := a.Initialize(context.Background(), "0xidentity", true); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	if client.isRegisteredCalls != 1 || client.registerCalls != 1 {
		t.Fatalf("未注册身份应触发注册: queries=%d registers=%d", client.isRegisteredCalls, client.registerCalls)
	}

	already := &fakeClient{registered: true}
	b := New(already, "test-agent")
	if err := b.Initialize(context.Background(), "0xidentity", true); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	if already.registerCalls != 0 {
		t.Fatal("已注册身份不应重复注册")
	}
}

func TestVerifyActionWithoutInitialize(t *testing.T) {
	client := &fakeClient{verifyOut: protocol.VerifyResult{Valid: true, Message: "匹配"}}
	a := New(client, "test-agent")

	valid, msg, err := a.VerifyAction(context.Background(), "0x1111222233334444", sampleReasoning())
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if !valid || msg != "匹配" {
		t.Fatalf("校验结果不符: valid=%v msg=%s", valid, msg)
	}
	if client.verifyCalls != 1 {
		t.Fatalf("校验调用次数不符: %d", client.verifyCalls)
	}
}

func TestVerifyActionMismatchIsNotError(t *testing.T) {
	client := &fakeClient{verifyOut: protocol.VerifyResult{Valid: false, Message: "哈希不一致"}}
	a := New(client, "test-agent")

	valid, msg, err := a.VerifyAction(context.Background(), "0x1111222233334444", sampleReasoning())
	if err != nil {
		t.Fatalf("校验不一致不应是错误: %v", err)
	}
	if valid {
		t.Fatal("期望校验不通过")
	}
	if msg == "" {
		t.Fatal("不一致时应携带说明")
	}
}
