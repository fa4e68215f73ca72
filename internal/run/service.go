package run

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"babyagi-task-initiator/internal/agent"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/observability/metrics"
	"babyagi-task-initiator/pkg/logger"
)

// OperationSet 判断操作名是否可执行，由 agent.Agent 实现。
type OperationSet interface {
	HasOperation(name string) bool
}

// Service 负责运行记录的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	ops        OperationSet
	deployment string
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithDeploymentName 记录提交时使用的部署名称。
func WithDeploymentName(name string) ServiceOption {
	return func(s *Service) {
		s.deployment = name
	}
}

// NewService 构造运行服务。ops 为 nil 时不在提交阶段校验操作名。
func NewService(store Store, producer Producer, ops OperationSet, opts ...ServiceOption) *Service {
	s := &Service{store: store, producer: producer, ops: ops}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建 pending 记录并推送到队列。
func (s *Service) Submit(ctx context.Context, input agent.RunInput) (*Run, error) {
	if strings.TrimSpace(input.ToolInputData.Objective) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "objective 不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}

	toolName := strings.TrimSpace(input.ToolName)
	if toolName == "" {
		toolName = agent.OperationGenerateTasks
	}
	if s.ops != nil && !s.ops.HasOperation(toolName) {
		return nil, xerrors.New(xerrors.CodeUnknownOperation, "不支持的操作: "+toolName,
			xerrors.WithMetadata("tool_name", toolName))
	}

	r := &Run{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		Objective:  input.ToolInputData.Objective,
		Context:    input.ToolInputData.Context,
		Deployment: s.deployment,
		Status:     StatusPending,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, r.ID); err != nil {
		logger.L().Error("运行记录入队失败", slog.Any("error", err), slog.String("run_id", r.ID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行记录到队列失败")
		if markErr := s.store.MarkFailed(ctx, r.ID, CodeRunPublish, wrapped.Error()); markErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", markErr), slog.String("run_id", r.ID))
		}
		metrics.IncRun(string(StatusFailed))
		return nil, wrapped
	}
	metrics.IncRun(string(StatusPending))
	logger.Audit().Info("运行记录入队成功",
		slog.String("run_id", r.ID),
		slog.String("tool_name", r.ToolName),
		slog.String("deployment", r.Deployment),
		slog.String("objective", r.Objective),
	)
	return r, nil
}

// Get 返回指定运行记录。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的运行记录。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询直到记录结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Terminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
