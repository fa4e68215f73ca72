package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"babyagi-task-initiator/internal/api"
	"babyagi-task-initiator/internal/app"
	"babyagi-task-initiator/internal/config"
	"babyagi-task-initiator/internal/observability/metrics"
	"babyagi-task-initiator/internal/run"
	"babyagi-task-initiator/pkg/logger"
)

// main 是任务发起守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil {
		log.Fatalf("initiatord 运行失败: %v", err)
	}
}

func serve(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	configPath := os.Getenv("INITIATOR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "initiator.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := app.InitLogger(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()

	client, err := app.NewCompletionClient(cfg.LLM)
	if err != nil {
		return err
	}
	ag, deployment, err := app.BuildAgent(cfg, cfg.Deployments.Default, client, nil)
	if err != nil {
		return err
	}
	logger.L().Info("已加载部署",
		slog.String("deployment", deployment.Name),
		slog.String("client", string(ag.Backend().Client)),
		slog.String("model", ag.Backend().Model),
	)

	store, err := app.NewStore(ctx, cfg.Storage.RunStore)
	if err != nil {
		return err
	}
	queue, err := app.NewQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	service := run.NewService(store, queue, ag, run.WithDeploymentName(deployment.Name))
	defer func() {
		if err := service.Close(); err != nil {
			logger.L().Error("关闭运行服务失败", slog.Any("error", err))
		}
	}()

	processor := run.NewProcessor(ag, store, queue,
		run.WithWorkerCount(cfg.Queue.Workers),
		run.WithAlertDispatcher(app.NewAlertDispatcher(cfg.Alerting)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	opts := []api.Option{api.WithShutdownTimeout(cfg.Server.ShutdownTimeout)}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			opts = append(opts, api.WithMetricsPath(cfg.Metrics.Path))
		} else {
			go func() {
				if err := metrics.StartServer(ctx, cfg.Metrics.Address, cfg.Metrics.Path); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Error("指标服务异常退出", slog.Any("error", err))
				}
			}()
		}
	}

	server := api.NewServer(cfg.Server.Address, ag, service, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
