package parallelops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
)

func testRegistry() *action.Registry {
	reg := action.NewRegistry()
	reg.Register("inc", func(ctx action.Context, payload map[string]any) (any, error) {
		return nil, nil
	})
	reg.Register("fail", func(ctx action.Context, payload map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	return reg
}

func TestPoolRunsJobsConcurrentlyAndReportsResultsInOrder(t *testing.T) {
	reg := testRegistry()
	pool := New(reg, action.NewPolicySet(), 4)

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = Job{
			ID: string(rune('a' + i)),
			Program: []action.Action{
				action.New("inc", map[string]any{"n": i}),
			},
		}
	}

	results := pool.Run(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r.JobID != jobs[i].ID {
			t.Fatalf("result %d: expected JobID %q, got %q", i, jobs[i].ID, r.JobID)
		}
		if r.Err != nil {
			t.Fatalf("result %d: unexpected error: %v", i, r.Err)
		}
		if len(r.State) == 0 {
			t.Fatalf("result %d: expected a non-empty serialized state", i)
		}
	}
}

func TestPoolReportsPerJobErrorsWithoutAbortingOthers(t *testing.T) {
	reg := testRegistry()
	pool := New(reg, action.NewPolicySet(), 2)

	jobs := []Job{
		{ID: "ok", Program: []action.Action{action.New("inc", nil)}},
		{ID: "bad", Program: []action.Action{action.New("fail", nil)}},
	}

	results := pool.Run(context.Background(), jobs)
	if results[0].Err != nil {
		t.Fatalf("expected job 0 to succeed, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("expected job 1 to fail")
	}
}

func TestPoolHonorsContextCancellation(t *testing.T) {
	reg := testRegistry()
	pool := New(reg, action.NewPolicySet(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []Job{{ID: "a", Program: nil}, {ID: "b", Program: nil}}
	results := pool.Run(ctx, jobs)

	var sawCancelled bool
	for _, r := range results {
		if r.Err != nil {
			sawCancelled = true
		}
	}
	if !sawCancelled {
		t.Fatalf("expected at least one job to observe cancellation")
	}
}

func TestPoolJobSeedsFromSnapshot(t *testing.T) {
	reg := testRegistry()

	seed := chronicle.New("seed", nil)
	if err := seed.Change("setup", func(d *chronicle.Draft) error {
		d.Set("x", "seeded")
		return nil
	}); err != nil {
		t.Fatalf("Change: %v", err)
	}
	snap, err := seed.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	pool := New(reg, action.NewPolicySet(), 1)
	results := pool.Run(context.Background(), []Job{{ID: "j", Snapshot: snap}})

	restored := chronicle.New("check", nil)
	if err := restored.Load(results[0].State); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.View()["x"] != "seeded" {
		t.Fatalf("expected seeded value to survive the round trip, got %v", restored.View()["x"])
	}
}

func TestPoolRunsWithinReasonableTime(t *testing.T) {
	reg := testRegistry()
	pool := New(reg, action.NewPolicySet(), 8)

	jobs := make([]Job, 50)
	for i := range jobs {
		jobs[i] = Job{ID: string(rune(i)), Program: []action.Action{action.New("inc", nil)}}
	}

	start := time.Now()
	pool.Run(context.Background(), jobs)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected 50 trivial jobs across 8 workers to finish quickly")
	}
}
