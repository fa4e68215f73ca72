package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"babyagi-task-initiator/internal/agent"
	xerrors "babyagi-task-initiator/internal/errors"
	"babyagi-task-initiator/internal/observability/alerting"
)

type fakeRunner struct {
	calls   atomic.Int32
	latency time.Duration
	err     error

	mu     sync.Mutex
	inputs []agent.RunInput
	runIDs []string
}

func (f *fakeRunner) Run(ctx context.Context, input agent.RunInput) (string, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.runIDs = append(f.runIDs, agent.RunIDFrom(ctx))
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf(`{"id":"chatcmpl","objective":%q}`, input.ToolInputData.Objective), nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	runner := &fakeRunner{latency: 5 * time.Millisecond}

	service := NewService(store, queue, nil)
	processor := NewProcessor(runner, store, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		r, err := service.Submit(ctx, agent.RunInput{ToolInputData: agent.PromptInput{Objective: fmt.Sprintf("goal-%d", i)}})
		if err != nil {
			t.Fatalf("submit run: %v", err)
		}
		ids = append(ids, r.ID)
	}

	for _, id := range ids {
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		r, err := service.WaitUntilCompleted(waitCtx, id, 10*time.Millisecond)
		waitCancel()
		if err != nil {
			t.Fatalf("wait for %s: %v", id, err)
		}
		if r.Status != StatusSucceeded || r.Attempts != 1 {
			t.Fatalf("unexpected run state: %+v", r)
		}
	}
	if got := int(runner.calls.Load()); got != total {
		t.Fatalf("expected exactly %d calls, got %d", total, got)
	}
	cancel()
}

func TestProcessorPassesRunContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	runner := &fakeRunner{}
	service := NewService(store, queue, nil, WithDeploymentName("local"))
	processor := NewProcessor(runner, store, queue)
	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, agent.RunInput{
		ToolName: "generate_tasks",
		ToolInputData: agent.PromptInput{
			Objective: "Write a blog post about the weather in London.",
			Context:   "Focus on historical weather patterns between 1900 and 2000",
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Deployment != "local" || submitted.Status != StatusPending {
		t.Fatalf("unexpected submitted run: %+v", submitted)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(done.Response) == 0 {
		t.Fatalf("expected response to be stored")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.runIDs[0] != submitted.ID {
		t.Fatalf("expected run id %s in context, got %s", submitted.ID, runner.runIDs[0])
	}
	if runner.inputs[0].ToolInputData.Context != "Focus on historical weather patterns between 1900 and 2000" {
		t.Fatalf("context not forwarded: %+v", runner.inputs[0])
	}
}

func TestProcessorFailureIsTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	runner := &fakeRunner{err: xerrors.New(xerrors.CodeUpstreamFailure, "connection refused")}
	alerter := &recordingAlerter{}
	service := NewService(store, queue, nil)
	processor := NewProcessor(runner, store, queue, WithAlertDispatcher(alerter))
	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, agent.RunInput{ToolInputData: agent.PromptInput{Objective: "goal"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodeUpstreamFailure) || done.Attempts != 1 {
		t.Fatalf("unexpected failed run: %+v", done)
	}

	time.Sleep(50 * time.Millisecond)
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("failed run must not be retried, got %d calls", got)
	}
	events := alerter.snapshot()
	if len(events) != 1 || events[0].RunID != submitted.ID || events[0].Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected alerts: %+v", events)
	}
}

func TestProcessorSkipsRunsThatCannotBeClaimed(t *testing.T) {
	store := NewMemoryStore()
	runner := &fakeRunner{}
	processor := NewProcessor(runner, store, nil)
	ctx := context.Background()

	if err := processor.handle(ctx, "missing"); err != nil {
		t.Fatalf("missing run should be skipped, got %v", err)
	}
	if err := store.Create(ctx, &Run{ID: "done", Objective: "goal", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "done", `{}`); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := processor.handle(ctx, "done"); err != nil {
		t.Fatalf("completed run should be skipped, got %v", err)
	}
	if runner.calls.Load() != 0 {
		t.Fatalf("runner must not be called for skipped runs")
	}
	if err := processor.Start(ctx); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure without consumer, got %v", err)
	}
}
