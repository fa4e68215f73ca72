// Package prompt builds the system/user message pair sent to the model.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/llm"
)

// Placeholder is substituted with the objective.
const Placeholder = "{{objective}}"

const contextPrefix = "\nContext: "

// Template is a user message template holding exactly one Placeholder.
type Template struct {
	raw string
}

// NewTemplate validates the raw template.
func NewTemplate(raw string) (Template, error) {
	switch n := strings.Count(raw, Placeholder); n {
	case 1:
		return Template{raw: raw}, nil
	case 0:
		return Template{}, xerrors.New(xerrors.CodeInvalidTemplate,
			fmt.Sprintf("用户消息模板缺少占位符 %s", Placeholder))
	default:
		return Template{}, xerrors.New(xerrors.CodeInvalidTemplate,
			fmt.Sprintf("用户消息模板包含 %d 个占位符 %s，只允许 1 个", n, Placeholder))
	}
}

// Render substitutes the objective into the template.
func (t Template) Render(objective string) string {
	return strings.Replace(t.raw, Placeholder, objective, 1)
}

// EncodeSystemPrompt turns the configured system prompt into message text.
// Strings pass through verbatim; structured values are JSON encoded.
func EncodeSystemPrompt(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	case json.RawMessage:
		return string(value), nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "系统提示词无法序列化")
	}
	return string(encoded), nil
}

// Assembler produces the two-message conversation for one objective.
type Assembler struct {
	System   string
	Template Template
}

// Assemble returns [system, user]. Context, when non-empty, is appended as
// "\nContext: <context>".
func (a Assembler) Assemble(objective, context string) ([]llm.Message, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "objective 不能为空")
	}
	if a.Template.raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidTemplate, "未配置用户消息模板")
	}

	user := a.Template.Render(objective)
	if context != "" {
		user += contextPrefix + context
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: a.System},
		{Role: llm.RoleUser, Content: user},
	}, nil
}
