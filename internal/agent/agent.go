package agent

import (
	"context"
	"sort"
	"strings"
	"time"

	"babyagi-task-initiator/internal/config"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/llm"
	"babyagi-task-initiator/internal/observability/metrics"
	"babyagi-task-initiator/internal/prompt"
	"babyagi-task-initiator/pkg/logger"
)

// OperationGenerateTasks 是默认且目前唯一对外暴露的操作。
const OperationGenerateTasks = "generate_tasks"

// PromptInput 是 generate_tasks 的输入。
type PromptInput struct {
	Objective string `json:"objective"`
	Context   string `json:"context,omitempty"`
}

// RunInput 是一次调用的入口参数，ToolName 为空时使用 generate_tasks。
type RunInput struct {
	ToolName      string      `json:"tool_name"`
	ToolInputData PromptInput `json:"tool_input_data"`
}

// Completer 完成一次补全调用，由 llm.Dispatcher 实现。
type Completer interface {
	Dispatch(ctx context.Context, backend llm.Backend, messages []llm.Message) (*llm.Response, error)
}

// Operation 是操作表中的一项。
type Operation func(ctx context.Context, input PromptInput) (string, error)

// Agent 把目标转换为提示词并发起一次补全调用。
type Agent struct {
	completer   Completer
	backend     llm.Backend
	assembler   prompt.Assembler
	operations  map[string]Operation
	deployment  string
	callTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithDeployment 设置部署名称，仅用于日志与指标。
func WithDeployment(name string) Option {
	return func(a *Agent) {
		a.deployment = name
	}
}

// WithCallTimeout 为补全调用设置超时时间，默认不设置。
func WithCallTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.callTimeout = 0
			return
		}
		a.callTimeout = timeout
	}
}

// New 校验配置并创建 Agent。模板占位符非法时返回 INVALID_TEMPLATE。
func New(cfg config.AgentConfig, completer Completer, opts ...Option) (*Agent, error) {
	if completer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置补全调度器")
	}

	template, err := prompt.NewTemplate(cfg.UserMessageTemplate)
	if err != nil {
		return nil, err
	}
	system, err := prompt.EncodeSystemPrompt(cfg.SystemPrompt)
	if err != nil {
		return nil, err
	}

	ag := &Agent{
		completer: completer,
		backend:   cfg.LLM.Backend(),
		assembler: prompt.Assembler{System: system, Template: template},
	}
	ag.operations = map[string]Operation{
		OperationGenerateTasks: ag.GenerateTasks,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag, nil
}

// GenerateTasks 组装提示词，调用一次模型并返回序列化后的原始响应。
func (a *Agent) GenerateTasks(ctx context.Context, input PromptInput) (string, error) {
	messages, err := a.assembler.Assemble(input.Objective, input.Context)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.completer.Dispatch(callCtx, a.backend, messages)
	elapsed := time.Since(start)
	a.record(ctx, OperationGenerateTasks, elapsed, err)
	if err != nil {
		return "", err
	}

	raw := resp.JSON()
	logger.Named("agent").Info("generated tasks",
		"deployment", a.deployment,
		"model", a.backend.Model,
		"response", raw,
	)
	return raw, nil
}

// Run 在操作表中查找 tool_name 并执行。未知名称在发起任何调用前返回 UNKNOWN_OPERATION。
func (a *Agent) Run(ctx context.Context, input RunInput) (string, error) {
	name := normalizeOperation(input.ToolName)
	op, ok := a.operations[name]
	if !ok {
		return "", xerrors.New(xerrors.CodeUnknownOperation, "不支持的操作: "+name,
			xerrors.WithMetadata("tool_name", name))
	}
	logger.Named("agent").Info("running operation",
		"tool_name", name,
		"run_id", RunIDFrom(ctx),
		"objective", input.ToolInputData.Objective,
	)
	return op(ctx, input.ToolInputData)
}

// HasOperation 判断操作名是否存在，空名称视为 generate_tasks。
func (a *Agent) HasOperation(name string) bool {
	_, ok := a.operations[normalizeOperation(name)]
	return ok
}

// Operations 返回按名称排序的操作列表。
func (a *Agent) Operations() []string {
	names := make([]string, 0, len(a.operations))
	for name := range a.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend 返回当前使用的后端描述。
func (a *Agent) Backend() llm.Backend {
	return a.backend
}

func (a *Agent) record(ctx context.Context, operation string, elapsed time.Duration, err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	metrics.ObserveCompletion(operation, string(a.backend.Client), outcome, elapsed)

	attrs := []any{
		"run_id", RunIDFrom(ctx),
		"deployment", a.deployment,
		"tool_name", operation,
		"model", a.backend.Model,
		"client", string(a.backend.Client),
		"duration_ms", elapsed.Milliseconds(),
		"outcome", outcome,
	}
	if err != nil {
		logger.Audit().Warn("completion call failed", append(attrs, "error", err.Error())...)
		return
	}
	logger.Audit().Info("completion call", attrs...)
}

func normalizeOperation(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return OperationGenerateTasks
	}
	return name
}

type runIDKey struct{}

// WithRunID 把运行编号放入上下文，供审计日志使用。
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom 读取上下文中的运行编号。
func RunIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
