package run

import (
	"encoding/json"
	stdErrors "errors"
	"strings"

	xerrors "babyagi-task-initiator/internal/errors"
)

// Status 表示运行记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run 记录一次异步提交的调用。每条记录最多执行一次补全调用。
type Run struct {
	ID         string          `json:"id"`
	ToolName   string          `json:"tool_name"`
	Objective  string          `json:"objective"`
	Context    string          `json:"context,omitempty"`
	Deployment string          `json:"deployment,omitempty"`
	Status     Status          `json:"status"`
	Response   json.RawMessage `json:"response,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Terminal 表示记录已经结束。
func (r *Run) Terminal() bool {
	return r != nil && (r.Status == StatusSucceeded || r.Status == StatusFailed)
}

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
)

var (
	// ErrRunNotFound 表示指定的运行记录不存在。
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict 表示记录在当前状态下无法进行所请求的操作。
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict")
	// ErrRunCompleted 表示记录已经结束，不会再次执行。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed")
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:  "failed to publish run",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{
		Message:  "run processing failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// IsRunError 判断错误是否对应指定的运行错误码。
func IsRunError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeRunNotFound:
		return stdErrors.Is(err, ErrRunNotFound)
	case CodeRunConflict:
		return stdErrors.Is(err, ErrRunConflict)
	case CodeRunCompleted:
		return stdErrors.Is(err, ErrRunCompleted)
	}
	return xerrors.HasCode(err, target)
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatuses 解析逗号分隔的状态列表，忽略未知值。
func ParseStatuses(raw string) []Status {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var statuses []Status
	for _, part := range strings.Split(raw, ",") {
		status := Status(strings.ToLower(strings.TrimSpace(part)))
		if IsValidStatus(status) {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func cloneRun(r *Run) *Run {
	clone := *r
	if r.Response != nil {
		clone.Response = append(json.RawMessage(nil), r.Response...)
	}
	return &clone
}
