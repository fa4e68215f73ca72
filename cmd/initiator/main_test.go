package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "babyagi-task-initiator/internal/errors"
)

const completion = `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"{\"list\":[{\"name\":\"Research\",\"description\":\"Collect weather records\",\"done\":false,\"result\":\"\"}]}"}}]}`

func writeFixture(t *testing.T, apiBase string) string {
	t.Helper()
	dir := t.TempDir()
	deployments := `[{"name":"local","module":{"name":"babyagi_task_initiator"},"agent_config":{"llm_config":{"client":"ollama","model":"ollama/phi","temperature":0.7,"max_tokens":1000,"api_base":"` + apiBase + `"},"system_prompt":"You are a task planner.","user_message_template":"Objective: {{objective}}"}}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_deployments.json"), []byte(deployments), 0o600))

	cfg := "deployments:\n  path: agent_deployments.json\nlog:\n  level: error\n"
	path := filepath.Join(dir, "initiator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunPrintsRawResponse(t *testing.T) {
	var received struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		_, _ = io.WriteString(w, completion)
	}))
	defer srv.Close()

	configPath := writeFixture(t, srv.URL+"/v1")
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", configPath,
		"-objective", "Write a blog post about the weather in London.",
		"-context", "Focus on historical weather patterns between 1900 and 2000",
	}, &out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "chatcmpl-1", decoded["id"])
	require.Len(t, received.Messages, 2)
	assert.True(t, strings.HasSuffix(received.Messages[1].Content, "\nContext: Focus on historical weather patterns between 1900 and 2000"))
}

func TestRunParsesTaskList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, completion)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", writeFixture(t, srv.URL+"/v1"), "-objective", "goal", "-parse"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"name": "Research"`)
}

func TestRunUnknownTool(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
	}))
	defer srv.Close()

	err := run(context.Background(), []string{"-config", writeFixture(t, srv.URL+"/v1"), "-objective", "goal", "-tool", "prioritize_tasks"}, io.Discard)
	assert.Equal(t, xerrors.CodeUnknownOperation, xerrors.CodeOf(err))
	assert.Zero(t, hits)
}
