package actions

import (
	"context"
	"errors"
	"testing"

	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/reasoning"
)

type stubExecutor struct {
	kind   reasoning.ActionKind
	result any
	err    error
	calls  int
}

func (s *stubExecutor) Kind() reasoning.ActionKind { return s.kind }

func (s *stubExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistryRegisterAndRun(t *testing.T) {
	r := NewRegistry()
	exec := &stubExecutor{kind: reasoning.ActionFeeCollection, result: "ok"}
	if err := r.Register(exec); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	out, err := r.Run(context.Background(), reasoning.ActionFeeCollection, nil)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if out != "ok" || exec.calls != 1 {
		t.Fatalf("执行结果不符: out=%v calls=%d", out, exec.calls)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubExecutor{kind: reasoning.ActionTransfer}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	err := r.Register(&stubExecutor{kind: reasoning.ActionTransfer})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("期望 CONFLICT，得到: %v", err)
	}
}

func TestRegistryRejectsInvalidKind(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&stubExecutor{kind: reasoning.ActionKind("mystery")})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("期望 INVALID_ARGUMENT，得到: %v", err)
	}
}

func TestRunUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), reasoning.ActionSwap, nil)
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("期望 NOT_FOUND，得到: %v", err)
	}
}

func TestRunPassesExecutorErrorVerbatim(t *testing.T) {
	r := NewRegistry()
	execErr := errors.New("链上执行被回滚")
	if err := r.Register(&stubExecutor{kind: reasoning.ActionSwap, err: execErr}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	_, err := r.Run(context.Background(), reasoning.ActionSwap, nil)
	if err != execErr {
		t.Fatalf("执行器错误应原样返回，得到: %v", err)
	}
}

func TestKindsSorted(t *testing.T) {
	r := NewRegistry()
	for _, kind := range []reasoning.ActionKind{reasoning.ActionTransfer, reasoning.ActionFeeCollection, reasoning.ActionRebalance} {
		if err := r.Register(&stubExecutor{kind: kind}); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
	}
	kinds := r.Kinds()
	if len(kinds) != 3 {
		t.Fatalf("类别数量不符: %d", len(kinds))
	}
	for i := 1; i < len(kinds); i++ {
		if kinds[i-1] >= kinds[i] {
			t.Fatalf("类别未按字典序排序: %v", kinds)
		}
	}
}
