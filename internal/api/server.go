package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"babyagi-task-initiator/internal/agent"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/observability/metrics"
	"babyagi-task-initiator/internal/run"
	"babyagi-task-initiator/internal/tasklist"
	"babyagi-task-initiator/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Runner 同步执行一次调用，由 agent.Agent 实现。
type Runner interface {
	Run(ctx context.Context, input agent.RunInput) (string, error)
}

// Server 负责暴露 REST 接口，供外部驱动任务生成。
type Server struct {
	addr            string
	runner          Runner
	runs            *run.Service
	metricsPath     string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithMetricsPath 在 API 服务上挂载 Prometheus 指标。
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		s.metricsPath = path
	}
}

// WithShutdownTimeout 设置优雅关闭的最长等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。runs 为 nil 时异步接口返回 503。
func NewServer(addr string, runner Runner, runs *run.Service, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		runner:          runner,
		runs:            runs,
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/run", s.instrument("run", s.handleRun))
	mux.Handle("POST /api/v1/runs", s.instrument("submit_run", s.handleSubmitRun))
	mux.Handle("GET /api/v1/runs", s.instrument("list_runs", s.handleListRuns))
	mux.Handle("GET /api/v1/runs/stats", s.instrument("run_stats", s.handleRunStats))
	mux.Handle("GET /api/v1/runs/{id}", s.instrument("run_detail", s.handleRunDetail))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type runResponse struct {
	Response   json.RawMessage    `json:"response"`
	Tasks      *tasklist.TaskList `json:"tasks,omitempty"`
	ParseError string             `json:"parse_error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	input, err := decodeRunInput(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.runner.Run(r.Context(), input)
	if err != nil {
		s.logger.Warn("同步调用失败",
			slog.String("tool_name", input.ToolName),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}

	body := runResponse{Response: json.RawMessage(raw)}
	if parseFlag(r.URL.Query().Get("parse")) {
		list, parseErr := tasklist.Parse([]byte(raw))
		if parseErr != nil {
			body.ParseError = parseErr.Error()
		} else {
			body.Tasks = &list
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	input, err := decodeRunInput(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	submitted, err := s.runs.Submit(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少运行 ID"))
		return
	}
	found, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func decodeRunInput(w http.ResponseWriter, r *http.Request) (agent.RunInput, error) {
	var input agent.RunInput
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&input); err != nil {
		return input, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return input, nil
}

func listOptionsFromQuery(r *http.Request) ([]run.ListOption, error) {
	query := r.URL.Query()
	var opts []run.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数")
		}
		opts = append(opts, run.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须为非负整数")
		}
		opts = append(opts, run.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := run.ParseStatuses(raw)
		if len(statuses) == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态: "+raw)
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if raw := query.Get("tool_name"); raw != "" {
		opts = append(opts, run.WithToolName(raw))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, run.WithQuery(raw))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "updated_since 格式错误")
		}
		opts = append(opts, run.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "updated_until 格式错误")
		}
		opts = append(opts, run.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_response"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_response 必须为布尔值")
		}
		opts = append(opts, run.WithResponsePresence(has))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
	}
	return opts, nil
}

// parseTimeParam 接受 RFC3339 时间或 Unix 秒。
func parseTimeParam(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseFlag(raw string) bool {
	enabled, err := strconv.ParseBool(raw)
	return err == nil && enabled
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok && e.Message() != "" {
		message = e.Message()
	}
	writeJSON(w, statusFor(code), errorBody{Error: errorDetail{Code: string(code), Message: message}})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidTemplate:
		return http.StatusBadRequest
	case xerrors.CodeUnknownOperation, xerrors.CodeNotFound, run.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, run.CodeRunConflict:
		return http.StatusConflict
	case xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure, xerrors.CodeQueueFailure, run.CodeRunPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
