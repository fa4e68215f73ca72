package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babyagi-task-initiator/internal/agent"
	"babyagi-task-initiator/internal/config"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/llm"
	"babyagi-task-initiator/internal/llm/execbridge"
	"babyagi-task-initiator/internal/llm/openai"
	"babyagi-task-initiator/internal/observability/alerting"
	"babyagi-task-initiator/internal/run"
)

const deploymentsYAML = `
- name: local
  module: {name: babyagi_task_initiator}
  agent_config:
    llm_config:
      client: ollama
      model: ollama/phi
      temperature: 0.7
      max_tokens: 1000
      api_base: %s
    system_prompt: You are a task planner.
    user_message_template: "Objective: {{objective}}"
- name: hosted
  module: {name: babyagi_task_initiator}
  agent_config:
    llm_config:
      client: openai
      model: gpt-4o-mini
    system_prompt: You are a task planner.
    user_message_template: "Objective: {{objective}}"
`

func writeDeployments(t *testing.T, apiBase string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_deployments.yaml")
	content := strings.ReplaceAll(deploymentsYAML, "%s", apiBase)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &config.Config{
		Deployments: config.DeploymentsConfig{Path: path},
		Credentials: config.CredentialsConfig{HostedAPIKeyEnv: "INITIATOR_TEST_MISSING_KEY"},
		LLM:         config.TransportConfig{Transport: "http"},
	}
}

func TestBuildAgentRunsAgainstSelectedDeployment(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = io.WriteString(w, `{"id":"chatcmpl-7","choices":[]}`)
	}))
	defer srv.Close()

	cfg := writeDeployments(t, srv.URL+"/v1")
	client, err := NewCompletionClient(cfg.LLM)
	require.NoError(t, err)

	ag, deployment, err := BuildAgent(cfg, "", client, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", deployment.Name)
	assert.Equal(t, llm.ClientOllama, ag.Backend().Client)

	out, err := ag.Run(context.Background(), agent.RunInput{ToolInputData: agent.PromptInput{Objective: "plan a garden"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"chatcmpl-7","choices":[]}`, out)
	assert.Contains(t, body, "Objective: plan a garden")
}

func TestBuildAgentHostedWithoutKey(t *testing.T) {
	cfg := writeDeployments(t, "http://127.0.0.1:1")
	ag, _, err := BuildAgent(cfg, "hosted", openai.NewClient(openai.Config{}), nil)
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), agent.RunInput{ToolInputData: agent.PromptInput{Objective: "goal"}})
	assert.Equal(t, xerrors.CodeMissingCredential, xerrors.CodeOf(err))
}

func TestBuildAgentUnknownDeployment(t *testing.T) {
	cfg := writeDeployments(t, "http://127.0.0.1:1")
	_, _, err := BuildAgent(cfg, "missing", openai.NewClient(openai.Config{}), nil)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	cfg.Deployments.Path = filepath.Join(t.TempDir(), "absent.json")
	_, _, err = BuildAgent(cfg, "", openai.NewClient(openai.Config{}), nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestNewCompletionClient(t *testing.T) {
	client, err := NewCompletionClient(config.TransportConfig{Transport: "exec", Exec: config.ExecConfig{Command: "infer", WorkingDir: "/srv"}})
	require.NoError(t, err)
	assert.IsType(t, &execbridge.Client{}, client)

	_, err = NewCompletionClient(config.TransportConfig{Transport: "exec"})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = NewCompletionClient(config.TransportConfig{Transport: "grpc"})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestNewStoreAndQueue(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, config.RunStoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &run.MemoryStore{}, store)

	_, err = NewStore(ctx, config.RunStoreConfig{Driver: "sqlite"})
	assert.Error(t, err)

	queue, err := NewQueue(ctx, config.QueueConfig{Driver: "memory", Buffer: 4})
	require.NoError(t, err)
	assert.IsType(t, &run.MemoryQueue{}, queue)
	require.NoError(t, queue.Close())

	_, err = NewQueue(ctx, config.QueueConfig{Driver: "kafka"})
	assert.Error(t, err)
}

func TestNewAlertDispatcher(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher := NewAlertDispatcher(config.AlertingConfig{WebhookURL: srv.URL})
	require.NotNil(t, dispatcher)
	require.NoError(t, dispatcher.Notify(context.Background(), alerting.Event{Code: xerrors.CodeUpstreamFailure, RunID: "run-1"}))
	assert.Equal(t, 1, hits)
}
