// Package app wires configuration into the components shared by the CLI and
// the daemon.
package app

import (
	"context"
	"fmt"
	"strings"

	"babyagi-task-initiator/internal/agent"
	"babyagi-task-initiator/internal/config"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/llm"
	"babyagi-task-initiator/internal/llm/execbridge"
	"babyagi-task-initiator/internal/llm/openai"
	"babyagi-task-initiator/internal/observability/alerting"
	"babyagi-task-initiator/internal/run"
	storage "babyagi-task-initiator/internal/storage/mysql"
	"babyagi-task-initiator/pkg/logger"
)

// InitLogger 按配置初始化全局日志。
func InitLogger(cfg config.LogConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	})
}

// NewCompletionClient 根据 llm.transport 创建补全传输层。
func NewCompletionClient(cfg config.TransportConfig) (llm.Client, error) {
	switch cfg.Transport {
	case "", "http":
		return openai.NewClient(openai.Config{Timeout: cfg.Timeout}), nil
	case "exec":
		command := execbridge.ResolveCommandPath(cfg.Exec.WorkingDir, cfg.Exec.Command)
		client, err := execbridge.NewClient(command, cfg.Exec.Args, cfg.Exec.WorkingDir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化补全命令失败")
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未知的补全传输方式: "+cfg.Transport)
	}
}

// BuildAgent 加载部署描述，选择部署并构造 Agent。name 为空时使用 deployments.default，
// 仍为空时使用第一项。
func BuildAgent(cfg *config.Config, name string, client llm.Client, creds llm.CredentialProvider) (*agent.Agent, config.Deployment, error) {
	deployments, err := config.LoadDeployments(cfg.Deployments.Path)
	if err != nil {
		return nil, config.Deployment{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载部署描述失败")
	}
	if strings.TrimSpace(name) == "" {
		name = cfg.Deployments.Default
	}
	deployment, err := deployments.Select(name)
	if err != nil {
		return nil, config.Deployment{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "选择部署失败",
			xerrors.WithMetadata("available", strings.Join(deployments.Names(), ",")))
	}

	if creds == nil {
		creds = llm.EnvCredentials{Variable: cfg.Credentials.HostedAPIKeyEnv}
	}
	ag, err := agent.New(deployment.AgentConfig, llm.NewDispatcher(client, creds),
		agent.WithDeployment(deployment.Name),
		agent.WithCallTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		return nil, config.Deployment{}, err
	}
	return ag, deployment, nil
}

// NewStore 根据 storage.run_store 创建运行记录存储。
func NewStore(ctx context.Context, cfg config.RunStoreConfig) (run.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryStore(), nil
	case "mysql":
		store, err := run.NewMySQLStore(ctx, storage.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			AutoMigrate:     cfg.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未知的存储驱动: "+cfg.Driver)
	}
}

// NewQueue 根据 queue.driver 创建队列。
func NewQueue(ctx context.Context, cfg config.QueueConfig) (run.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		queue, err := run.NewRedisQueue(ctx, run.RedisQueueConfig{
			Address:   cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Key:       cfg.Redis.Key,
			BlockWait: cfg.Redis.BlockTimeout,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 Redis 队列失败")
		}
		return queue, nil
	case "rabbitmq":
		queue, err := run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("未知的队列驱动: %s", cfg.Driver))
	}
}

// NewAlertDispatcher 总是写审计日志，配置了 webhook_url 时同时推送 webhook。
func NewAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	return alerting.NewFanout(notifiers...)
}
