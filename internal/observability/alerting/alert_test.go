package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "babyagi-task-initiator/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	first := &recordingNotifier{channel: "a"}
	second := &recordingNotifier{channel: "b", err: errors.New("down")}
	dispatcher := NewFanout(first, nil, second)

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeUpstreamFailure, RunID: "run-1"})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error from channel b, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
	if first.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be filled in")
	}
}

func TestWebhookNotifierPostsText(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second)
	err := notifier.Notify(context.Background(), Event{
		Code:     xerrors.CodeMissingCredential,
		Severity: xerrors.SeverityCritical,
		RunID:    "run-7",
		ToolName: "generate_tasks",
		Message:  "环境变量 OPENAI_API_KEY 未设置",
		Metadata: map[string]string{"stage": "terminal"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	text := payload["text"]
	for _, want := range []string{"[critical] MISSING_CREDENTIAL", "run=run-7", "tool=generate_tasks", "stage=terminal"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Event{Code: "X"}); err == nil {
		t.Fatalf("expected error on 502")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityCritical}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
