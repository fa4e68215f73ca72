package llm

import (
	"context"
	"os"
	"strings"

	xerrors "babyagi-task-initiator/internal/errors"
)

// LocalServerSentinel 是本地推理服务（vLLM）约定的占位 Key。
const LocalServerSentinel = "EMPTY"

// DefaultHostedKeyEnv 是托管服务 API Key 默认读取的环境变量。
const DefaultHostedKeyEnv = "OPENAI_API_KEY"

// CredentialProvider 为托管后端提供 API Key。
type CredentialProvider interface {
	HostedAPIKey(ctx context.Context) (string, error)
}

// EnvCredentials 从环境变量读取托管 Key。
type EnvCredentials struct {
	Variable string
	Lookup   func(string) (string, bool)
}

// HostedAPIKey 实现 CredentialProvider。
func (e EnvCredentials) HostedAPIKey(context.Context) (string, error) {
	name := strings.TrimSpace(e.Variable)
	if name == "" {
		name = DefaultHostedKeyEnv
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", xerrors.New(xerrors.CodeMissingCredential, "环境变量 "+name+" 未设置",
			xerrors.WithMetadata("variable", name))
	}
	return strings.TrimSpace(value), nil
}

// StaticCredentials 返回固定的 Key，常用于测试或由上层注入。
type StaticCredentials string

// HostedAPIKey 实现 CredentialProvider。
func (s StaticCredentials) HostedAPIKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", xerrors.New(xerrors.CodeMissingCredential, "未提供托管服务 API Key")
	}
	return key, nil
}

// ResolveAPIKey 根据后端类型决定使用的 API Key：
// ollama 不需要 Key，vllm 使用占位 Key，其余类型向 provider 索取。
func ResolveAPIKey(ctx context.Context, kind ClientKind, provider CredentialProvider) (string, error) {
	switch kind {
	case ClientOllama:
		return "", nil
	case ClientVLLM:
		return LocalServerSentinel, nil
	}
	if provider == nil {
		return "", xerrors.New(xerrors.CodeMissingCredential, "未配置托管服务凭据")
	}
	key, err := provider.HostedAPIKey(ctx)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeMissingCredential) {
			return "", err
		}
		return "", xerrors.Wrap(xerrors.CodeMissingCredential, err, "读取托管服务凭据失败")
	}
	if strings.TrimSpace(key) == "" {
		return "", xerrors.New(xerrors.CodeMissingCredential, "托管服务 API Key 为空")
	}
	return key, nil
}
