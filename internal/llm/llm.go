package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// 消息角色。
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ClientKind 标识后端类型，决定 API Key 的解析策略。
type ClientKind string

const (
	// ClientOllama 为本地守护进程，不需要 API Key。
	ClientOllama ClientKind = "ollama"
	// ClientVLLM 为本地推理服务，使用固定的占位 Key。
	ClientVLLM ClientKind = "vllm"
	// ClientOpenAI 为托管服务。其余未知类型同样按托管服务处理。
	ClientOpenAI ClientKind = "openai"
)

// ParseClientKind 去掉 client 字段两侧空白。大小写敏感："Ollama" 不是本地后端，按托管服务处理。
func ParseClientKind(raw string) ClientKind {
	return ClientKind(strings.TrimSpace(raw))
}

// IsLocal 表示该后端是否运行在本地（无需托管凭据）。
func (k ClientKind) IsLocal() bool {
	return k == ClientOllama || k == ClientVLLM
}

// Message 是发送给模型的一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend 描述调用哪个模型以及如何调用。
type Backend struct {
	Client      ClientKind
	Model       string
	Temperature float64
	MaxTokens   int
	APIBase     string
}

// Request 是一次补全调用的完整参数。
type Request struct {
	Client      ClientKind
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	APIBase     string
	APIKey      string
}

// Response 保存模型返回的原始响应体。
type Response struct {
	Raw json.RawMessage
}

// NewResponse 压缩原始 JSON。非法 JSON 编码为 JSON 字符串，保证 JSON() 总是合法的 JSON 文本。
func NewResponse(body []byte) *Response {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Response{}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		quoted, _ := json.Marshal(string(trimmed))
		return &Response{Raw: quoted}
	}
	return &Response{Raw: compact.Bytes()}
}

// JSON 返回响应的文本表示。
func (r *Response) JSON() string {
	if r == nil {
		return ""
	}
	return string(r.Raw)
}

// Client 定义了调用大模型补全接口的统一抽象。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
