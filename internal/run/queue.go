package run

import "context"

// Handler 处理来自消息队列的运行 ID。返回的错误只用于记录，不会触发重投。
type Handler func(ctx context.Context, runID string) error

// Producer 负责向队列投递运行 ID。
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer 负责从队列中消费运行 ID。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
