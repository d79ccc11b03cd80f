// Package maintenance runs scheduled housekeeping over the checkpoint
// store, keeping per-thread history bounded.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"github.com/archiq/assistant/conversation"
)

// Run records one retention sweep.
type Run struct {
	At       time.Time `json:"at"`
	Trigger  string    `json:"trigger"`
	Removed  int       `json:"removed"`
	Duration int64     `json:"durationMs"`
	Error    string    `json:"error,omitempty"`
}

// Janitor prunes superseded checkpoints on a cron schedule. Only the
// newest keep checkpoints of each thread survive a sweep.
type Janitor struct {
	mu      sync.Mutex
	store   conversation.Store
	cron    *robcron.Cron
	keep    int
	runs    []Run
	maxRuns int
	started bool
}

func NewJanitor(store conversation.Store, cronExpr string, keep int) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	j := &Janitor{
		store:   store,
		cron:    robcron.New(),
		keep:    keep,
		maxRuns: 100,
	}
	if _, err := j.cron.AddFunc(cronExpr, func() {
		_, _ = j.sweep(context.Background(), "schedule")
	}); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return j, nil
}

// Trigger executes a sweep immediately, regardless of the schedule.
func (j *Janitor) Trigger(ctx context.Context) (int, error) {
	return j.sweep(ctx, "manual")
}

// History returns recent sweeps, newest first.
func (j *Janitor) History(limit int) []Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.runs) {
		limit = len(j.runs)
	}
	out := make([]Run, 0, limit)
	for i := len(j.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.runs[i])
	}
	return out
}

func (j *Janitor) sweep(ctx context.Context, trigger string) (int, error) {
	started := time.Now()
	removed, err := j.store.PruneSuperseded(ctx, j.keep)
	finished := time.Now()

	run := Run{
		At:       finished,
		Trigger:  trigger,
		Removed:  removed,
		Duration: finished.Sub(started).Milliseconds(),
	}
	if err != nil {
		run.Error = err.Error()
		log.Printf("[maintenance] retention sweep failed (%s): %v", trigger, err)
	} else if removed > 0 {
		log.Printf("[maintenance] retention sweep removed %d checkpoints (%s)", removed, trigger)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, run)
	if len(j.runs) > j.maxRuns {
		j.runs = j.runs[len(j.runs)-j.maxRuns:]
	}
	return removed, err
}

// Start begins the schedule. Non-blocking.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		j.cron.Start()
		j.started = true
	}
}

// Stop halts the schedule; an in-flight sweep finishes on its own.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		j.cron.Stop()
		j.started = false
	}
}
