// Package initiator is a Go client for the task initiator REST API.
package initiator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Client wraps the HTTP interactions with the initiator REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// PromptInput carries the objective and optional context.
type PromptInput struct {
	Objective string `json:"objective"`
	Context   string `json:"context,omitempty"`
}

// RunInput is the body accepted by the run endpoints. An empty ToolName
// selects generate_tasks on the server.
type RunInput struct {
	ToolName      string      `json:"tool_name,omitempty"`
	ToolInputData PromptInput `json:"tool_input_data"`
}

// Task is one entry of a parsed task list.
type Task struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Result      string `json:"result"`
}

// TaskList is the task list the model was asked to produce.
type TaskList struct {
	List []Task `json:"list"`
}

// RunResult is returned by the synchronous run endpoint.
type RunResult struct {
	Response   json.RawMessage `json:"response"`
	Tasks      *TaskList       `json:"tasks,omitempty"`
	ParseError string          `json:"parse_error,omitempty"`
}

// Run is an asynchronously submitted invocation.
type Run struct {
	ID         string          `json:"id"`
	ToolName   string          `json:"tool_name"`
	Objective  string          `json:"objective"`
	Context    string          `json:"context,omitempty"`
	Deployment string          `json:"deployment,omitempty"`
	Status     string          `json:"status"`
	Response   json.RawMessage `json:"response,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// ListRunsOptions filters ListRuns. Zero values are omitted.
type ListRunsOptions struct {
	Statuses     []string
	ToolName     string
	Query        string
	Limit        int
	Offset       int
	UpdatedSince time.Time
	UpdatedUntil time.Time
	// HasResponse keeps only runs with (true) or without (false) a stored response.
	HasResponse *bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("initiator api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("initiator api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the initiator API. When httpClient is
// nil, http.DefaultClient is used, which has no timeout; completions against
// a local model can take minutes.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Run executes one invocation synchronously and returns the raw completion
// response.
func (c *Client) Run(ctx context.Context, input RunInput) (json.RawMessage, error) {
	result, err := c.run(ctx, input, false)
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// RunAndParse executes one invocation and asks the server to parse the task
// list out of the response.
func (c *Client) RunAndParse(ctx context.Context, input RunInput) (RunResult, error) {
	return c.run(ctx, input, true)
}

func (c *Client) run(ctx context.Context, input RunInput, parse bool) (RunResult, error) {
	var query url.Values
	if parse {
		query = url.Values{"parse": []string{"1"}}
	}
	var result RunResult
	if err := c.post(ctx, "/api/v1/run", query, input, &result); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// Submit queues an invocation and returns the pending run.
func (c *Client) Submit(ctx context.Context, input RunInput) (Run, error) {
	var submitted Run
	if err := c.post(ctx, "/api/v1/runs", nil, input, &submitted); err != nil {
		return Run{}, err
	}
	return submitted, nil
}

// GetRun fetches a run by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var found Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &found); err != nil {
		return Run{}, err
	}
	return found, nil
}

// ListRuns lists runs matching opts, most recently updated first.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) ([]Run, error) {
	query := url.Values{}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.ToolName != "" {
		query.Set("tool_name", opts.ToolName)
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if !opts.UpdatedSince.IsZero() {
		query.Set("updated_since", opts.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if !opts.UpdatedUntil.IsZero() {
		query.Set("updated_until", opts.UpdatedUntil.UTC().Format(time.RFC3339))
	}
	if opts.HasResponse != nil {
		query.Set("has_response", strconv.FormatBool(*opts.HasResponse))
	}
	var runs []Run
	if err := c.get(ctx, "/api/v1/runs", query, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
