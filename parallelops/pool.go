// Package parallelops runs batches of independent Chronicle simulations
// concurrently: each job gets its own Chronicle seeded from a snapshot,
// replays an action program against it, and reports back the resulting
// state. It is the same fan-out-then-join shape a workflow engine uses to
// run a fan-out node's branches concurrently, generalized to a
// caller-bounded worker count instead of one goroutine per branch.
package parallelops

import (
	"context"
	"fmt"
	"sync"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/engine"
)

// Job is one unit of batch work: replay Program against a Chronicle seeded
// from Snapshot (or empty, if Snapshot is nil) and report the resulting
// state. ID is caller-assigned and echoed back in the matching Result so
// results can be matched to jobs regardless of completion order.
type Job struct {
	ID       string
	Snapshot []byte
	NodeID   string
	Program  []action.Action
}

// Result is what a Job produces: either a serialized Chronicle state, or
// an error if any step of the program failed (the attempted chronicle's
// state up to the failing step is not returned — a job either completes
// its whole program or fails outright, matching the all-or-nothing
// replay semantics a deterministic simulation needs).
type Result struct {
	JobID    string
	State    []byte
	Err      error
	StepsRun int
}

// Pool runs Jobs across a bounded number of concurrent workers.
type Pool struct {
	registry *action.Registry
	policies *action.PolicySet
	sem      chan struct{}
}

// New creates a Pool that runs at most concurrency jobs at once, each
// dispatching through registry and evaluating policies against its own
// private Engine and Chronicle. concurrency <= 0 is treated as 1.
func New(registry *action.Registry, policies *action.PolicySet, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{registry: registry, policies: policies, sem: make(chan struct{}, concurrency)}
}

// Run executes every job, blocking until all have completed or ctx is
// cancelled. Results are returned in the same order as jobs, each result's
// JobID matching its job's ID regardless of which worker ran it.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	for i, j := range jobs {
		i, j := i, j

		if err := ctx.Err(); err != nil {
			results[i] = Result{JobID: j.ID, Err: err}
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result{JobID: j.ID, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()
			results[i] = p.runOne(ctx, j)
		}()
	}
	wg.Wait()

	return results
}

func (p *Pool) runOne(ctx context.Context, j Job) Result {
	nodeID := j.NodeID
	if nodeID == "" {
		nodeID = "parallelops"
	}

	chron := chronicle.New(nodeID, nil)
	if len(j.Snapshot) > 0 {
		if err := chron.Load(j.Snapshot); err != nil {
			return Result{JobID: j.ID, Err: fmt.Errorf("parallelops: load snapshot: %w", err)}
		}
	}

	eng := engine.New(chron, p.registry, p.policies, engine.Sync)

	for i, a := range j.Program {
		if err := ctx.Err(); err != nil {
			return Result{JobID: j.ID, Err: err, StepsRun: i}
		}
		if _, err := eng.Dispatch(a); err != nil {
			return Result{JobID: j.ID, Err: fmt.Errorf("parallelops: step %d (%s): %w", i, a.Type, err), StepsRun: i}
		}
	}

	state, err := chron.Save()
	if err != nil {
		return Result{JobID: j.ID, Err: fmt.Errorf("parallelops: save result: %w", err), StepsRun: len(j.Program)}
	}

	return Result{JobID: j.ID, State: state, StepsRun: len(j.Program)}
}
