package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"babyagi-task-initiator/internal/agent"
	"babyagi-task-initiator/internal/app"
	"babyagi-task-initiator/internal/config"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/tasklist"
	"babyagi-task-initiator/pkg/logger"
)

// main 运行一次任务发起调用并把原始响应写到标准输出。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", xerrors.CodeOf(err), err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("initiator", flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath(), "配置文件路径")
	deployment := flags.String("deployment", "", "部署名称，默认使用配置中的 deployments.default")
	tool := flags.String("tool", agent.OperationGenerateTasks, "要执行的操作")
	objective := flags.String("objective", "", "需要拆解的目标")
	taskContext := flags.String("context", "", "可选的补充上下文")
	parse := flags.Bool("parse", false, "把响应解析为任务列表后输出")
	if err := flags.Parse(args); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数解析失败")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载 .env 失败")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载配置失败")
	}
	if err := app.InitLogger(cfg.Log); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化日志失败")
	}
	defer logger.Sync()

	client, err := app.NewCompletionClient(cfg.LLM)
	if err != nil {
		return err
	}
	ag, _, err := app.BuildAgent(cfg, *deployment, client, nil)
	if err != nil {
		return err
	}

	raw, err := ag.Run(ctx, agent.RunInput{
		ToolName:      *tool,
		ToolInputData: agent.PromptInput{Objective: *objective, Context: *taskContext},
	})
	if err != nil {
		return err
	}

	if !*parse {
		_, err = fmt.Fprintln(stdout, raw)
		return err
	}
	list, err := tasklist.Parse([]byte(raw))
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}

func defaultConfigPath() string {
	if path := os.Getenv("INITIATOR_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "initiator.yaml")
}
