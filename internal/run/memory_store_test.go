package run

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "babyagi-task-initiator/internal/errors"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	runs := []*Run{
		{ID: "r1", ToolName: "generate_tasks", Objective: "blog about London", Status: StatusPending},
		{ID: "r2", ToolName: "generate_tasks", Objective: "plan a trip", Status: StatusPending},
		{ID: "r3", ToolName: "generate_tasks", Objective: "write a poem", Status: StatusPending},
	}
	for _, r := range runs {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "r2", xerrors.CodeUpstreamFailure, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", `{"id":"chatcmpl-1"}`); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["r1"].UpdatedAt = base.Unix()
	store.runs["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].ID != "r3" {
		t.Fatalf("expected newest run first, got %s", all[0].ID)
	}

	asc, err := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(1)))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 1 || asc[0].ID != "r1" {
		t.Fatalf("unexpected ascending list: %+v", asc)
	}

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" || failed[0].ErrorCode != string(xerrors.CodeUpstreamFailure) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResponse, err := store.List(ctx, BuildListOptions(WithResponsePresence(true)))
	if err != nil {
		t.Fatalf("list with response: %v", err)
	}
	if len(withResponse) != 1 || string(withResponse[0].Response) != `{"id":"chatcmpl-1"}` {
		t.Fatalf("unexpected response list: %+v", withResponse)
	}

	recent, err := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 runs to match since filter, got %d", len(recent))
	}

	matched, err := store.List(ctx, BuildListOptions(WithQuery("london")))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r1" {
		t.Fatalf("unexpected query result: %+v", matched)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Run{ID: id, Objective: id, Status: StatusPending}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.Claim(ctx, "b"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", `{}`); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Running != 1 || stats.Succeeded != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected update range: %+v", stats)
	}
}

func TestMemoryStoreClaimOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Run{ID: "x", Objective: "goal", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Run{ID: "x", Objective: "goal"}); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed run: %+v", claimed)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}
	if err := store.MarkFailed(ctx, "x", xerrors.CodeUpstreamFailure, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrRunCompleted) {
		t.Fatalf("expected completed error after failure, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !IsRunError(err, CodeRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseStatuses(t *testing.T) {
	got := ParseStatuses(" Failed, bogus ,succeeded,failed")
	if len(got) != 3 || got[0] != StatusFailed || got[1] != StatusSucceeded {
		t.Fatalf("unexpected statuses: %v", got)
	}
	if ParseStatuses("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}
