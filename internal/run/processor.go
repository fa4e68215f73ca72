package run

import (
	"context"
	"log/slog"
	"time"

	"babyagi-task-initiator/internal/agent"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/observability/alerting"
	"babyagi-task-initiator/internal/observability/metrics"
	"babyagi-task-initiator/pkg/logger"
)

// Runner 执行一次调用，由 agent.Agent 实现。
type Runner interface {
	Run(ctx context.Context, input agent.RunInput) (string, error)
}

// Processor 从队列消费运行 ID 并交给 Runner 执行。失败不会重投。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	r, err := p.store.Claim(ctx, runID)
	if err != nil {
		if IsRunError(err, CodeRunNotFound) || IsRunError(err, CodeRunCompleted) || IsRunError(err, CodeRunConflict) {
			p.logger.Debug("跳过运行记录", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取运行记录失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	response, runErr := p.runner.Run(agent.WithRunID(ctx, r.ID), agent.RunInput{
		ToolName: r.ToolName,
		ToolInputData: agent.PromptInput{
			Objective: r.Objective,
			Context:   r.Context,
		},
	})
	if runErr != nil {
		return p.handleFailure(ctx, r, runErr)
	}

	if err := p.store.MarkSucceeded(ctx, r.ID, response); err != nil {
		p.logger.Error("标记运行成功状态失败", slog.Any("error", err), slog.String("run_id", r.ID))
		p.emitAlert(ctx, r, CodeRunProcessing, err, "persist")
		return err
	}
	metrics.IncRun(string(StatusSucceeded))
	logger.Audit().Info("运行执行成功",
		slog.String("run_id", r.ID),
		slog.String("tool_name", r.ToolName),
		slog.Int("attempts", r.Attempts),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, r *Run, runErr error) error {
	code := xerrors.CodeOf(runErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	if err := p.store.MarkFailed(ctx, r.ID, code, runErr.Error()); err != nil {
		p.logger.Error("标记运行失败状态出错", slog.Any("error", err), slog.String("run_id", r.ID))
		return err
	}
	metrics.IncRun(string(StatusFailed))
	logger.Audit().Warn("运行执行失败",
		slog.String("run_id", r.ID),
		slog.String("tool_name", r.ToolName),
		slog.String("error", runErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", r.Attempts),
	)
	if xerrors.ShouldAlert(runErr) || code == CodeRunProcessing {
		p.emitAlert(ctx, r, code, runErr, "terminal")
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, r *Run, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || r == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      r.ID,
		ToolName:   r.ToolName,
		Deployment: r.Deployment,
		Attempts:   r.Attempts,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", r.ID),
			slog.String("stage", stage),
		)
	}
}
