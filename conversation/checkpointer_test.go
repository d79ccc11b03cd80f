package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/archiq/assistant/types"
)

// flakyStore fails a configurable number of SaveCheckpoint and
// LoadLatestCheckpoint calls before delegating to an in-memory map.
type flakyStore struct {
	failures  int
	pingErr   error
	saved     map[string][]Checkpoint
	saveCalls int
	loadCalls int
	pingCalls int
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, saved: map[string][]Checkpoint{}}
}

var errStorageDown = errors.New("connection refused")

func (f *flakyStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	f.saveCalls++
	if f.failures > 0 {
		f.failures--
		return errStorageDown
	}
	for _, existing := range f.saved[cp.ThreadID] {
		if existing.Seq == cp.Seq {
			return ErrConflict
		}
	}
	f.saved[cp.ThreadID] = append(f.saved[cp.ThreadID], cp)
	return nil
}

func (f *flakyStore) LoadLatestCheckpoint(_ context.Context, threadID string) (Checkpoint, error) {
	f.loadCalls++
	if f.failures > 0 {
		f.failures--
		return Checkpoint{}, errStorageDown
	}
	cps := f.saved[threadID]
	if len(cps) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Seq > latest.Seq {
			latest = cp
		}
	}
	return latest, nil
}

func (f *flakyStore) ListCheckpoints(_ context.Context, threadID string, _ int) ([]Checkpoint, error) {
	return f.saved[threadID], nil
}

func (f *flakyStore) PurgeThread(_ context.Context, threadID string) error {
	delete(f.saved, threadID)
	return nil
}

func (f *flakyStore) PruneSuperseded(context.Context, int) (int, error) { return 0, nil }

func (f *flakyStore) Ping(context.Context) error {
	f.pingCalls++
	return f.pingErr
}

func (f *flakyStore) Close() error { return nil }

func TestCheckpointerAssignsIdentity(t *testing.T) {
	store := newFlakyStore(0)
	cpr := NewCheckpointer(store)

	saved, err := cpr.Save(context.Background(), Checkpoint{ThreadID: "thread-1", Seq: 0, NodeID: "main"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ID == "" {
		t.Error("expected a generated checkpoint id")
	}
	if saved.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}
}

func TestCheckpointerRetriesOnceOnStorageFault(t *testing.T) {
	store := newFlakyStore(1)
	cpr := NewCheckpointer(store)

	if _, err := cpr.Save(context.Background(), Checkpoint{ThreadID: "thread-1", Seq: 0}); err != nil {
		t.Fatalf("expected retry to absorb a single fault, got %v", err)
	}
	if store.saveCalls != 2 {
		t.Errorf("expected 2 save attempts, got %d", store.saveCalls)
	}
	if store.pingCalls != 1 {
		t.Errorf("expected 1 ping, got %d", store.pingCalls)
	}
}

func TestCheckpointerSecondFaultIsTerminal(t *testing.T) {
	store := newFlakyStore(2)
	cpr := NewCheckpointer(store)

	_, err := cpr.Save(context.Background(), Checkpoint{ThreadID: "thread-1", Seq: 0})
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if !errors.Is(err, errStorageDown) {
		t.Errorf("expected wrapped storage error, got %v", err)
	}
	if store.saveCalls != 2 {
		t.Errorf("expected exactly 2 save attempts, got %d", store.saveCalls)
	}
}

func TestCheckpointerFailedPingSkipsRetry(t *testing.T) {
	store := newFlakyStore(1)
	store.pingErr = errStorageDown
	cpr := NewCheckpointer(store)

	_, err := cpr.Save(context.Background(), Checkpoint{ThreadID: "thread-1", Seq: 0})
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if store.saveCalls != 1 {
		t.Errorf("expected no retry after failed ping, got %d attempts", store.saveCalls)
	}
}

func TestCheckpointerConflictPassesThrough(t *testing.T) {
	store := newFlakyStore(0)
	cpr := NewCheckpointer(store)
	ctx := context.Background()

	if _, err := cpr.Save(ctx, Checkpoint{ThreadID: "thread-1", Seq: 0}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_, err := cpr.Save(ctx, Checkpoint{ThreadID: "thread-1", Seq: 0})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if store.pingCalls != 0 {
		t.Errorf("conflict must not trigger a ping, got %d", store.pingCalls)
	}
}

func TestCheckpointerNotFoundPassesThrough(t *testing.T) {
	store := newFlakyStore(0)
	cpr := NewCheckpointer(store)

	_, err := cpr.Latest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.loadCalls != 1 {
		t.Errorf("expected a single load attempt, got %d", store.loadCalls)
	}
}

func TestStateCloneIsolation(t *testing.T) {
	orig := State{
		ThreadID: "thread-1",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	clone := orig.Clone()
	clone.Append(types.Message{Role: types.RoleAssistant, Content: "hello"})

	if len(orig.Messages) != 1 {
		t.Errorf("clone mutation leaked into original: %d messages", len(orig.Messages))
	}
	if len(clone.Messages) != 2 {
		t.Errorf("expected 2 messages in clone, got %d", len(clone.Messages))
	}
}
