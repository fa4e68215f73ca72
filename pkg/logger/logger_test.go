package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuditLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.log")

	if err := Init(Config{Level: "debug", OutputPaths: []string{filepath.Join(dir, "app.log")}, Audit: AuditConfig{Enabled: true, Path: path, MaxSizeMB: 1}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("completion", "tool_name", "generate_tasks", "outcome", "succeeded")
	Named("api").Debug("request handled")

	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	audit, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), `"tool_name":"generate_tasks"`) || !strings.Contains(string(audit), `"stream":"audit"`) {
		t.Fatalf("unexpected audit content: %s", audit)
	}

	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), `"component":"api"`) {
		t.Fatalf("expected component attribute, got %s", app)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path is missing")
	}
	if L() == nil {
		t.Fatalf("fallback logger should be available")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for input, want := range cases {
		if got := parseLevel(input).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}
