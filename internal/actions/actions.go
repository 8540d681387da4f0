package actions

import (
	"context"
	"sort"
	"sync"

	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/reasoning"
)

// Executor 执行某一类别的金库动作。参数来自任务载荷，结果类型由执行器决定。
type Executor interface {
	Kind() reasoning.ActionKind
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Registry 按动作类别管理执行器。
type Registry struct {
	mu        sync.RWMutex
	executors map[reasoning.ActionKind]Executor
}

// NewRegistry 创建一个空的执行器注册表。
func NewRegistry() *Registry {
	return &Registry{executors: make(map[reasoning.ActionKind]Executor)}
}

// Register 注册一个执行器。同一类别重复注册会返回错误。
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行器不能为空")
	}
	kind := exec.Kind()
	if !reasoning.IsValidActionKind(kind) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的动作类别: "+string(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return xerrors.New(xerrors.CodeConflict, "动作类别已注册执行器: "+string(kind))
	}
	r.executors[kind] = exec
	return nil
}

// Get 返回指定类别的执行器。
func (r *Registry) Get(kind reasoning.ActionKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	return exec, ok
}

// Kinds 返回已注册的动作类别，按字典序排序。
func (r *Registry) Kinds() []reasoning.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]reasoning.ActionKind, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Run 找到对应的执行器并执行动作。
// 执行器自身的错误原样返回，调用方负责决定如何呈现。
func (r *Registry) Run(ctx context.Context, kind reasoning.ActionKind, params map[string]any) (any, error) {
	exec, ok := r.Get(kind)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "未注册执行器的动作类别: "+string(kind))
	}
	return exec.Execute(ctx, params)
}
