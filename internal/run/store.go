package run

import (
	"context"

	xerrors "babyagi-task-initiator/internal/errors"
)

// Store 抽象了运行记录的持久化接口。
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim 只允许 pending -> running，且每条记录只能领取一次。
	Claim(ctx context.Context, id string) (*Run, error)
	MarkSucceeded(ctx context.Context, id string, response string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
