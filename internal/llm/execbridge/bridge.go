package execbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"babyagi-task-initiator/internal/llm"
)

// APIKeyEnv 是传递给子进程的 API Key 环境变量名，Key 不会写入 stdin。
const APIKeyEnv = "INITIATOR_API_KEY"

// Client 通过外部命令完成推理：请求以 JSON 写入 stdin，命令在 stdout 输出补全响应。
type Client struct {
	command    string
	args       []string
	workingDir string
}

// NewClient 创建 exec 桥接客户端。
func NewClient(command string, args []string, workingDir string) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("未指定推理命令")
	}
	return &Client{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	Client      string        `json:"client"`
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	APIBase     string        `json:"api_base,omitempty"`
}

// Complete 执行外部命令，并把 stdout 作为原始响应返回。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(bridgeRequest{
		Client:      string(req.Client),
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		APIBase:     req.APIBase,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.command, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Env = append(os.Environ(), APIKeyEnv+"="+req.APIKey)
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行推理命令失败: %w, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, fmt.Errorf("推理命令输出不是合法的 JSON: %q", truncate(string(out)))
	}
	return llm.NewResponse(out), nil
}

// ResolveCommandPath 根据工作目录推导相对脚本路径；裸命令名保持原样交给 PATH 查找。
func ResolveCommandPath(baseDir, command string) string {
	if command == "" || filepath.IsAbs(command) || baseDir == "" {
		return command
	}
	if !strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	return filepath.Join(baseDir, command)
}

func truncate(text string) string {
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
