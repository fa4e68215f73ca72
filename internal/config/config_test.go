package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "initiator.yaml", `
server:
  address: ":9090"
deployments:
  path: deployments.yaml
llm:
  timeout: 30s
queue:
  workers: 0
log:
  audit:
    enabled: true
    path: logs/audit.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "deployments.yaml"), cfg.Deployments.Path)
	assert.Equal(t, filepath.Join(dir, "logs", "audit.log"), cfg.Log.Audit.Path)
	assert.Equal(t, dir, cfg.LLM.Exec.WorkingDir)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, "memory", cfg.Storage.RunStore.Driver)
	assert.Equal(t, "http", cfg.LLM.Transport)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Credentials.HostedAPIKeyEnv)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "initiator.yaml", "server:\n  address: \":9090\"\n")

	t.Setenv("INITIATOR_SERVER_ADDRESS", ":7070")
	t.Setenv("INITIATOR_QUEUE_DRIVER", "redis")
	t.Setenv("INITIATOR_CREDENTIALS_HOSTED_API_KEY_ENV", "HOSTED_KEY")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "redis", cfg.Queue.Driver)
	assert.Equal(t, "HOSTED_KEY", cfg.Credentials.HostedAPIKeyEnv)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "agent_deployments.json"), cfg.Deployments.Path)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"exec without command": "llm:\n  transport: exec\n",
		"unknown transport":    "llm:\n  transport: grpc\n",
		"mysql without dsn":    "storage:\n  run_store:\n    driver: mysql\n",
		"unknown queue":        "queue:\n  driver: kafka\n",
		"audit without path":   "log:\n  audit:\n    enabled: true\n",
	}
	for name, content := range cases {
		path := writeFile(t, t.TempDir(), "initiator.yaml", content)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}
