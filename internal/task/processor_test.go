package task

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"

	"ReasonChain/internal/actions"
	"ReasonChain/internal/auditor"
	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/observability/alerting"
	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
	storage "ReasonChain/internal/storage/mysql"
)

// fakeAuditor 模拟承诺-执行-揭示周期：承诺失败短路，动作错误原样上抛。
type fakeAuditor struct {
	commitErr error
	calls     int
}

func (f *fakeAuditor) ExecuteAudited(ctx context.Context, r reasoning.Reasoning, action auditor.Action) (*auditor.AuditRecord, error) {
	f.calls++
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	result, err := action(ctx)
	if err != nil {
		return nil, err
	}
	return &auditor.AuditRecord{
		Reasoning:   r,
		Commitment:  protocol.Commitment{Hash: "0xhash", Address: "0xaddr"},
		Reveal:      protocol.Reveal{URI: "https://storage.example.dev/0xhash"},
		Result:      result,
		ExplorerURL: "https://explorer.example.dev/commitment/0xaddr",
	}, nil
}

type recordingProducer struct {
	published []string
}

func (p *recordingProducer) Publish(_ context.Context, taskID string) error {
	p.published = append(p.published, taskID)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type fixedExecutor struct {
	kind   reasoning.ActionKind
	result any
	err    error
}

func (e *fixedExecutor) Kind() reasoning.ActionKind { return e.kind }

func (e *fixedExecutor) Execute(context.Context, map[string]any) (any, error) {
	return e.result, e.err
}

func newProcessorFixture(t *testing.T, aud Auditor, exec actions.Executor) (*Processor, *MemoryStore, *recordingProducer) {
	t.Helper()
	registry := actions.NewRegistry()
	if exec != nil {
		if err := registry.Register(exec); err != nil {
			t.Fatalf("注册执行器失败: %v", err)
		}
	}
	store := NewMemoryStore()
	producer := &recordingProducer{}
	p := NewProcessor(aud, registry, store, NewMemoryQueue(4), producer)
	return p, store, producer
}

func TestProcessorHandleSuccess(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	exec := &fixedExecutor{kind: reasoning.ActionFeeCollection, result: map[string]any{"tx_hash": "0xfee"}}
	p, store, _ := newProcessorFixture(t, aud, exec)

	if err := store.Create(ctx, newTask("p-1", reasoning.ActionFeeCollection)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-1"); err != nil {
		t.Fatalf("处理任务失败: %v", err)
	}

	got, err := store.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("任务应成功: %+v", got)
	}
	if got.Result == nil || got.Result.CommitmentAddress != "0xaddr" {
		t.Fatalf("结果缺失链上凭据: %+v", got.Result)
	}
	if !strings.Contains(got.Result.Output, "0xfee") {
		t.Fatalf("执行器输出未记录: %s", got.Result.Output)
	}
	if aud.calls != 1 {
		t.Fatalf("审计调用次数不符: %d", aud.calls)
	}
}

func TestProcessorTerminalFailureDoesNotRequeue(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	execErr := stdErrors.New("余额不足")
	exec := &fixedExecutor{kind: reasoning.ActionTransfer, err: execErr}
	p, store, producer := newProcessorFixture(t, aud, exec)

	if err := store.Create(ctx, newTask("p-2", reasoning.ActionTransfer)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-2"); err != nil {
		t.Fatalf("处理不应返回错误: %v", err)
	}

	got, _ := store.Get(ctx, "p-2")
	if got.Status != StatusFailed {
		t.Fatalf("任务应失败: %+v", got)
	}
	if len(producer.published) != 0 {
		t.Fatalf("不可重试错误不应重投: %v", producer.published)
	}
}

func TestProcessorRetryableFailureRequeues(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{commitErr: xerrors.New(xerrors.CodeCommitFailure, "链上提交失败")}
	p, store, producer := newProcessorFixture(t, aud, &fixedExecutor{kind: reasoning.ActionRebalance})

	if err := store.Create(ctx, newTask("p-3", reasoning.ActionRebalance)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-3"); err != nil {
		t.Fatalf("处理不应返回错误: %v", err)
	}

	got, _ := store.Get(ctx, "p-3")
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeCommitFailure) {
		t.Fatalf("失败状态不符: %+v", got)
	}
	if len(producer.published) != 1 || producer.published[0] != "p-3" {
		t.Fatalf("可重试错误应重投一次: %v", producer.published)
	}
}

func TestProcessorSkipsCompletedTask(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	p, store, _ := newProcessorFixture(t, aud, &fixedExecutor{kind: reasoning.ActionSwap})

	if err := store.Create(ctx, newTask("p-4", reasoning.ActionSwap)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if _, err := store.Claim(ctx, "p-4"); err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "p-4", ExecutionResult{CommitmentHash: "0xdone"}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}

	if err := p.handle(ctx, "p-4"); err != nil {
		t.Fatalf("已完成任务应被跳过: %v", err)
	}
	if aud.calls != 0 {
		t.Fatalf("已完成任务不应再触发审计: %d", aud.calls)
	}
}

func TestProcessorArchivesSuccessfulRecord(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	exec := &fixedExecutor{kind: reasoning.ActionRebalance, result: "ok"}

	registry := actions.NewRegistry()
	if err := registry.Register(exec); err != nil {
		t.Fatalf("注册执行器失败: %v", err)
	}
	archive, err := storage.NewJSONLArchive(t.TempDir())
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}
	store := NewMemoryStore()
	p := NewProcessor(aud, registry, store, NewMemoryQueue(4), &recordingProducer{},
		WithAuditArchive(archive, "treasury-agent"),
	)

	if err := store.Create(ctx, newTask("p-6", reasoning.ActionRebalance)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-6"); err != nil {
		t.Fatalf("处理任务失败: %v", err)
	}

	entries, err := archive.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("查询归档失败: %v", err)
	}
	if len(entries) != 1 || entries[0].CommitmentAddress != "0xaddr" || entries[0].AgentName != "treasury-agent" {
		t.Fatalf("归档内容不符: %+v", entries)
	}
}

type fallbackRecovery struct {
	result *ExecutionResult
}

func (r *fallbackRecovery) Recover(context.Context, *Task, error) (*ExecutionResult, error) {
	return r.result, nil
}

func TestProcessorRecoveryFallback(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	exec := &fixedExecutor{kind: reasoning.ActionPayment, err: stdErrors.New("收款方地址无效")}

	registry := actions.NewRegistry()
	if err := registry.Register(exec); err != nil {
		t.Fatalf("注册执行器失败: %v", err)
	}
	store := NewMemoryStore()
	producer := &recordingProducer{}
	p := NewProcessor(aud, registry, store, NewMemoryQueue(4), producer,
		WithRecoveryHandler(&fallbackRecovery{result: &ExecutionResult{Output: "已转人工处理"}}),
	)

	if err := store.Create(ctx, newTask("p-5", reasoning.ActionPayment)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-5"); err != nil {
		t.Fatalf("处理不应返回错误: %v", err)
	}

	got, _ := store.Get(ctx, "p-5")
	if got.Status != StatusSucceeded || got.Result == nil || got.Result.Output != "已转人工处理" {
		t.Fatalf("降级结果未写入: %+v", got)
	}
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

func TestProcessorEmitsAlertOnTerminalFailure(t *testing.T) {
	ctx := context.Background()
	aud := &fakeAuditor{}
	exec := &fixedExecutor{kind: reasoning.ActionTransfer, err: stdErrors.New("金库余额不足")}

	registry := actions.NewRegistry()
	if err := registry.Register(exec); err != nil {
		t.Fatalf("注册执行器失败: %v", err)
	}
	store := NewMemoryStore()
	dispatcher := &recordingDispatcher{}
	p := NewProcessor(aud, registry, store, NewMemoryQueue(4), &recordingProducer{},
		WithAlertDispatcher(dispatcher),
	)

	if err := store.Create(ctx, newTask("p-6", reasoning.ActionTransfer)); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := p.handle(ctx, "p-6"); err != nil {
		t.Fatalf("处理不应返回错误: %v", err)
	}

	if len(dispatcher.events) != 1 {
		t.Fatalf("期望触发一次告警, got %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.TaskID != "p-6" {
		t.Fatalf("告警任务不符: %s", event.TaskID)
	}
	if event.Metadata["stage"] != "terminal" {
		t.Fatalf("终态失败应标记 terminal: %v", event.Metadata)
	}
	if !strings.Contains(event.Message, "余额不足") {
		t.Fatalf("告警应携带原始错误: %s", event.Message)
	}
}
