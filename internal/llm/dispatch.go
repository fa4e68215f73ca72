package llm

import (
	"context"
	"fmt"

	xerrors "babyagi-task-initiator/internal/errors"
)

// Dispatcher 负责解析凭据并发起一次补全调用。
type Dispatcher struct {
	client      Client
	credentials CredentialProvider
}

// NewDispatcher 创建 Dispatcher。credentials 为空时托管后端会返回 MISSING_CREDENTIAL。
func NewDispatcher(client Client, credentials CredentialProvider) *Dispatcher {
	return &Dispatcher{client: client, credentials: credentials}
}

// Dispatch 发送一次同步请求，不做任何重试。
func (d *Dispatcher) Dispatch(ctx context.Context, backend Backend, messages []Message) (*Response, error) {
	if d == nil || d.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	apiKey, err := ResolveAPIKey(ctx, backend.Client, d.credentials)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Complete(ctx, Request{
		Client:      backend.Client,
		Model:       backend.Model,
		Messages:    messages,
		Temperature: backend.Temperature,
		MaxTokens:   backend.MaxTokens,
		APIBase:     backend.APIBase,
		APIKey:      apiKey,
	})
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
			fmt.Sprintf("调用模型 %s 失败", backend.Model),
			xerrors.WithMetadata("client", string(backend.Client)))
	}
	if resp == nil || len(resp.Raw) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "模型返回空响应")
	}
	return resp, nil
}
