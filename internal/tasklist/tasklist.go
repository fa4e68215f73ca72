// Package tasklist declares the task schema consumed downstream of the
// initiator and parses it out of a completion response after the call.
package tasklist

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	xerrors "babyagi-task-initiator/internal/errors"
)

// CodeUnparseable marks a response whose content is not a task list.
const CodeUnparseable xerrors.Code = "TASK_LIST_UNPARSEABLE"

func init() {
	xerrors.Register(CodeUnparseable, xerrors.Attributes{
		Message:  "response does not contain a task list",
		Severity: xerrors.SeverityInfo,
	})
}

// Task is a single task to be performed.
type Task struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Result      string `json:"result"`
}

// TaskList is an ordered sequence of tasks.
type TaskList struct {
	List []Task `json:"list"`
}

// Content returns the assistant message text of a chat completion body.
func Content(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", xerrors.New(CodeUnparseable, "响应不是合法的 JSON")
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", xerrors.New(CodeUnparseable, "响应中没有 choices[0].message.content")
	}
	return content.String(), nil
}

// Parse extracts a TaskList from a raw chat completion body. The content may
// be wrapped in a ```json fence and may be either {"list": [...]} or a bare
// array of tasks.
func Parse(raw []byte) (TaskList, error) {
	content, err := Content(raw)
	if err != nil {
		return TaskList{}, err
	}
	return ParseContent(content)
}

// ParseContent decodes the assistant text itself.
func ParseContent(content string) (TaskList, error) {
	body := stripFence(content)
	if !gjson.Valid(body) {
		return TaskList{}, xerrors.New(CodeUnparseable, fmt.Sprintf("消息内容不是 JSON: %q", preview(body)))
	}

	parsed := gjson.Parse(body)
	var items gjson.Result
	switch {
	case parsed.IsArray():
		items = parsed
	case parsed.Get("list").IsArray():
		items = parsed.Get("list")
	case parsed.Get("tasks").IsArray():
		items = parsed.Get("tasks")
	default:
		return TaskList{}, xerrors.New(CodeUnparseable, "消息内容缺少任务数组")
	}

	list := TaskList{List: make([]Task, 0, len(items.Array()))}
	if err := json.Unmarshal([]byte(items.Raw), &list.List); err != nil {
		return TaskList{}, xerrors.Wrap(CodeUnparseable, err, "任务数组解码失败")
	}
	return list, nil
}

func stripFence(content string) string {
	body := strings.TrimSpace(content)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	// An optional language tag ends at the first whitespace, on the same line or not.
	tag := strings.IndexFunc(body, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '+'
	})
	if tag < 0 {
		tag = len(body)
	}
	if tag > 0 && (tag == len(body) || unicode.IsSpace(rune(body[tag]))) {
		body = body[tag:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

func preview(text string) string {
	if len([]rune(text)) > 60 {
		return string([]rune(text)[:60]) + "..."
	}
	return text
}
