package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"babyagi-task-initiator/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxErrorBody   = 2048
)

// 模型 ID 中可能携带的 litellm 风格前缀，只剥离与当前后端类型一致的前缀。
var providerPrefixes = map[llm.ClientKind][]string{
	llm.ClientOllama: {"ollama/", "ollama_chat/"},
	llm.ClientVLLM:   {"hosted_vllm/", "vllm/"},
	llm.ClientOpenAI: {"openai/"},
}

// Config 描述了调用 OpenAI 兼容 Chat Completions 接口的传输参数。
type Config struct {
	// BaseURL 在请求未指定 api_base 时使用。
	BaseURL string
	// Timeout 为 0 时沿用 http.Client 的默认行为（不设超时）。
	Timeout time.Duration
}

// Client 通过 HTTP 调用任意 OpenAI 兼容的补全接口（托管服务、Ollama、vLLM）。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// Complete 发送一次 /chat/completions 请求并返回原始响应体。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint, err := c.endpoint(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建补全请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求补全接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取补全响应失败: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("补全响应不是合法的 JSON")
	}
	return llm.NewResponse(body), nil
}

// StatusError 表示补全接口返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("补全接口返回错误状态 %d: %s", e.StatusCode, e.Body)
}

func (c *Client) endpoint(req llm.Request) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(req.APIBase), "/")
	if base == "" {
		// 本地后端没有默认地址，避免把请求误发到托管服务。
		if req.Client.IsLocal() {
			return "", fmt.Errorf("%s 后端必须配置 api_base", req.Client)
		}
		base = c.baseURL
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("api_base 不合法: %q", base)
	}
	// Ollama 的 OpenAI 兼容接口挂在 /v1 下，配置里通常只写主机地址。
	if req.Client == llm.ClientOllama && strings.Trim(parsed.Path, "/") == "" {
		base += "/v1"
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	return base + "/chat/completions", nil
}

func buildPayload(req llm.Request) ([]byte, error) {
	body := map[string]any{
		"model":       normalizeModel(req.Client, req.Model),
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化补全请求失败: %w", err)
	}
	return encoded, nil
}

func normalizeModel(kind llm.ClientKind, model string) string {
	model = strings.TrimSpace(model)
	for _, prefix := range providerPrefixes[kind] {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}
	return model
}
