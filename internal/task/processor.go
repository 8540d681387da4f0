package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ReasonChain/internal/actions"
	"ReasonChain/internal/auditor"
	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/observability/alerting"
	"ReasonChain/internal/observability/metrics"
	"ReasonChain/internal/reasoning"
	storage "ReasonChain/internal/storage/mysql"
	"ReasonChain/pkg/logger"
)

// Auditor 定义了处理器所需的审计执行能力。
type Auditor interface {
	ExecuteAudited(ctx context.Context, r reasoning.Reasoning, action auditor.Action) (*auditor.AuditRecord, error)
}

// Processor 负责从队列消费动作任务，经由审计器执行对应的执行器。
type Processor struct {
	auditor     Auditor
	registry    *actions.Registry
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher

	archive      storage.AuditArchive
	archiveAgent string
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithAuditArchive 将每条成功的审计记录额外写入持久归档。
func WithAuditArchive(archive storage.AuditArchive, agentName string) ProcessorOption {
	return func(p *Processor) {
		p.archive = archive
		p.archiveAgent = agentName
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(aud Auditor, registry *actions.Registry, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		auditor:     aud,
		registry:    registry,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.auditor == nil || p.registry == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	record, execErr := p.auditor.ExecuteAudited(ctx, task.Reasoning, func(actionCtx context.Context) (any, error) {
		return p.registry.Run(actionCtx, task.Reasoning.Kind, cloneParams(task.Params))
	})
	if execErr != nil {
		metrics.ObserveAuditCycle(string(task.Reasoning.Kind), auditOutcome(execErr))
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	metrics.ObserveAuditCycle(string(task.Reasoning.Kind), "success")

	result := resultFromRecord(record)
	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		logger.Audit().Warn("任务标记成功失败后重试",
			slog.String("task_id", task.ID),
			slog.String("kind", string(task.Reasoning.Kind)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Reasoning.Kind)),
		slog.String("commitment", result.CommitmentAddress),
	)
	p.archiveRecord(ctx, task, record)
	return nil
}

// archiveRecord 将审计证据写入持久归档，失败只记录日志，不影响任务状态。
func (p *Processor) archiveRecord(ctx context.Context, task *Task, record *auditor.AuditRecord) {
	if p.archive == nil || record == nil {
		return
	}
	entry, err := storage.EntryFromRecord(p.archiveAgent, *record)
	if err != nil {
		logger.L().Error("展平审计记录失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return
	}
	if err := p.archive.Append(ctx, entry); err != nil {
		logger.L().Error("写入审计归档失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, task, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "任务补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if fallback.Output == "" {
				fallback.Output = fmt.Sprintf("降级处理: %v", execErr)
			}
			if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
				if storeErr := p.store.MarkFailed(ctx, task.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
					return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在降级失败后重投失败", task.ID))
				}
				return nil
			}
			logger.Audit().Warn("任务降级完成",
				slog.String("task_id", task.ID),
				slog.String("kind", string(task.Reasoning.Kind)),
				slog.String("output", fallback.Output),
			)
			p.emitAlert(ctx, task, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Reasoning.Kind)),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, task, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func auditOutcome(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeCommitFailure:
		return "commit_failed"
	case xerrors.CodeRevealFailure:
		return "reveal_failed"
	default:
		return "action_failed"
	}
}

func resultFromRecord(record *auditor.AuditRecord) ExecutionResult {
	if record == nil {
		return ExecutionResult{}
	}
	result := ExecutionResult{
		CommitmentHash:    record.Commitment.Hash,
		CommitmentAddress: record.Commitment.Address,
		RevealURI:         record.Reveal.URI,
		ExplorerURL:       record.ExplorerURL,
	}
	if record.Result != nil {
		if encoded, err := json.Marshal(record.Result); err == nil {
			result.Output = string(encoded)
		}
	}
	return result
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
