package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"babyagi-task-initiator/internal/llm"
)

// LLMConfig 描述一次补全调用所使用的模型后端。
type LLMConfig struct {
	ConfigName  string  `yaml:"config_name" json:"config_name,omitempty"`
	Client      string  `yaml:"client" json:"client"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	APIBase     string  `yaml:"api_base" json:"api_base,omitempty"`
}

// Backend 转换为调度器使用的后端描述。
func (c LLMConfig) Backend() llm.Backend {
	return llm.Backend{
		Client:      llm.ParseClientKind(c.Client),
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		APIBase:     c.APIBase,
	}
}

// AgentConfig 是任务发起智能体的配置。SystemPrompt 可以是字符串，也可以是结构化对象；
// 从描述文件读取的结构化对象以 json.RawMessage 保存，键按文件中的书写顺序排列。
type AgentConfig struct {
	ConfigName          string    `yaml:"config_name" json:"config_name,omitempty"`
	LLM                 LLMConfig `yaml:"llm_config" json:"llm_config"`
	SystemPrompt        any       `yaml:"system_prompt" json:"system_prompt"`
	UserMessageTemplate string    `yaml:"user_message_template" json:"user_message_template"`
}

// UnmarshalYAML 解码 AgentConfig，并按原始键序把结构化 system_prompt 编码为 JSON。
func (c *AgentConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ConfigName          string    `yaml:"config_name"`
		LLM                 LLMConfig `yaml:"llm_config"`
		SystemPrompt        yaml.Node `yaml:"system_prompt"`
		UserMessageTemplate string    `yaml:"user_message_template"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	prompt, err := systemPromptValue(&raw.SystemPrompt)
	if err != nil {
		return fmt.Errorf("system_prompt: %w", err)
	}
	*c = AgentConfig{
		ConfigName:          raw.ConfigName,
		LLM:                 raw.LLM,
		SystemPrompt:        prompt,
		UserMessageTemplate: raw.UserMessageTemplate,
	}
	return nil
}

func systemPromptValue(node *yaml.Node) (any, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null") {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str" {
		return node.Value, nil
	}
	var buf bytes.Buffer
	if err := writeOrderedJSON(&buf, node); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// writeOrderedJSON 把 YAML 节点写成紧凑 JSON，映射保持键的书写顺序。
func writeOrderedJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeOrderedJSON(buf, node.Content[0])
	case yaml.AliasNode:
		return writeOrderedJSON(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, node.Content[i].Value); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeOrderedJSON(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeOrderedJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		var scalar any
		if err := node.Decode(&scalar); err != nil {
			return err
		}
		return writeJSONValue(buf, scalar)
	}
}

func writeJSONValue(buf *bytes.Buffer, v any) error {
	var encoded bytes.Buffer
	enc := json.NewEncoder(&encoded)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(encoded.Bytes(), "\n"))
	return nil
}

// Validate 检查必填字段，模板占位符由 prompt 包校验。
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.UserMessageTemplate) == "" {
		return errors.New("user_message_template 不能为空")
	}
	if strings.TrimSpace(c.LLM.Client) == "" {
		return errors.New("llm_config.client 不能为空")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm_config.model 不能为空")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm_config.max_tokens 不能为负数: %d", c.LLM.MaxTokens)
	}
	return nil
}

// ModuleRef 标识部署所引用的智能体模块。
type ModuleRef struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url,omitempty"`
}

// Deployment 是部署描述文件中的一项。
type Deployment struct {
	Name        string      `yaml:"name" json:"name"`
	Module      ModuleRef   `yaml:"module" json:"module"`
	AgentConfig AgentConfig `yaml:"agent_config" json:"agent_config"`
}

// Deployments 保持描述文件中的顺序。
type Deployments []Deployment

// LoadDeployments 读取部署描述文件，YAML 与 JSON 均可。
func LoadDeployments(path string) (Deployments, error) {
	if path == "" {
		return nil, errors.New("部署描述文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取部署描述文件失败: %w", err)
	}
	return ParseDeployments(content)
}

// ParseDeployments 解析部署描述内容并逐项校验。
func ParseDeployments(content []byte) (Deployments, error) {
	var deployments Deployments
	if err := yaml.Unmarshal(content, &deployments); err != nil {
		return nil, fmt.Errorf("解析部署描述失败: %w", err)
	}
	if len(deployments) == 0 {
		return nil, errors.New("部署描述为空")
	}
	for i, d := range deployments {
		if err := d.AgentConfig.Validate(); err != nil {
			return nil, fmt.Errorf("部署 %d (%s): %w", i, d.Name, err)
		}
	}
	return deployments, nil
}

// Select 按名称选择部署，名称为空时返回第一项。
func (d Deployments) Select(name string) (Deployment, error) {
	if len(d) == 0 {
		return Deployment{}, errors.New("没有可用的部署")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return d[0], nil
	}
	for _, deployment := range d {
		if deployment.Name == name {
			return deployment, nil
		}
	}
	return Deployment{}, fmt.Errorf("未找到部署: %s", name)
}

// Names 返回全部部署名称。
func (d Deployments) Names() []string {
	names := make([]string, 0, len(d))
	for _, deployment := range d {
		names = append(names, deployment.Name)
	}
	return names
}
