package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/types"
)

// memStore is an in-memory conversation.Store with the same uniqueness
// semantics as the real backends. beforeSave, when set, runs ahead of each
// write so tests can interleave a competing writer.
type memStore struct {
	mu         sync.Mutex
	byThread   map[string][]conversation.Checkpoint
	beforeSave func(cp conversation.Checkpoint) error
}

func newMemStore() *memStore {
	return &memStore{byThread: map[string][]conversation.Checkpoint{}}
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp conversation.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeSave != nil {
		if err := m.beforeSave(cp); err != nil {
			return err
		}
	}
	for _, existing := range m.byThread[cp.ThreadID] {
		if existing.Seq == cp.Seq {
			return conversation.ErrConflict
		}
	}
	m.byThread[cp.ThreadID] = append(m.byThread[cp.ThreadID], cp)
	return nil
}

func (m *memStore) LoadLatestCheckpoint(_ context.Context, threadID string) (conversation.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.byThread[threadID]
	if len(cps) == 0 {
		return conversation.Checkpoint{}, conversation.ErrNotFound
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Seq > latest.Seq {
			latest = cp
		}
	}
	return latest, nil
}

func (m *memStore) ListCheckpoints(_ context.Context, threadID string, limit int) ([]conversation.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := append([]conversation.Checkpoint(nil), m.byThread[threadID]...)
	sort.Slice(cps, func(i, j int) bool { return cps[i].Seq > cps[j].Seq })
	if limit > 0 && len(cps) > limit {
		cps = cps[:limit]
	}
	return cps, nil
}

func (m *memStore) PurgeThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byThread, threadID)
	return nil
}

func (m *memStore) PruneSuperseded(context.Context, int) (int, error) { return 0, nil }
func (m *memStore) Ping(context.Context) error                       { return nil }
func (m *memStore) Close() error                                     { return nil }

// scriptNode runs a scripted function under a fixed id.
type scriptNode struct {
	id  string
	run func(ctx context.Context, st *conversation.State) (Transition, error)
}

func (n *scriptNode) ID() string { return n.id }

func (n *scriptNode) Run(ctx context.Context, st *conversation.State) (Transition, error) {
	return n.run(ctx, st)
}

// approvalNode pauses on its pending call and records the decision it is
// resumed with.
type approvalNode struct {
	scriptNode
	resumed  bool
	approved bool
}

func (n *approvalNode) Resume(_ context.Context, st *conversation.State, calls []types.ToolCall, approved bool) (Transition, error) {
	n.resumed = true
	n.approved = approved
	for _, call := range calls {
		content := "application created"
		if !approved {
			content = "Action declined by the user."
		}
		st.Append(types.Message{Role: types.RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name})
	}
	return Transition{Next: NodeMain}, nil
}

func replyNode(id, reply, next string) *scriptNode {
	return &scriptNode{id: id, run: func(_ context.Context, st *conversation.State) (Transition, error) {
		st.Append(types.Message{Role: types.RoleAssistant, Content: reply})
		return Transition{Next: next}, nil
	}}
}

func TestTurnRunsPipelineAndCheckpoints(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		replyNode(NodeMain, "Hello! How can I help with your apartment search?", NodeEnd),
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	res, err := exec.Turn(context.Background(), "thread-1", "hi")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if res.Reply != "Hello! How can I help with your apartment search?" {
		t.Errorf("unexpected reply: %q", res.Reply)
	}
	if len(res.NodeTrace) != 1 || res.NodeTrace[0] != NodeMain {
		t.Errorf("unexpected trace: %v", res.NodeTrace)
	}

	cps, err := store.ListCheckpoints(context.Background(), "thread-1", 10)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected input + node checkpoints, got %d", len(cps))
	}
	if cps[1].NodeID != "input" || cps[1].NextNode != NodeMain {
		t.Errorf("unexpected input checkpoint: %+v", cps[1])
	}
	if cps[0].NodeID != NodeMain || cps[0].NextNode != NodeEnd {
		t.Errorf("unexpected node checkpoint: %+v", cps[0])
	}
	if got, ok := cps[0].State.LastMessage(); !ok || got.Role != types.RoleAssistant {
		t.Errorf("final checkpoint missing assistant reply: %+v", got)
	}
}

func TestTurnFollowsDelegations(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			// First visit delegates, second visit answers.
			for _, msg := range st.Messages {
				if msg.Role == types.RoleTool {
					st.Append(types.Message{Role: types.RoleAssistant, Content: "Here is what I found."})
					return Transition{Next: NodeEnd}, nil
				}
			}
			return Transition{Next: NodeCriteria}, nil
		}},
		&scriptNode{id: NodeCriteria, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			st.Append(types.Message{Role: types.RoleTool, Content: "criteria updated"})
			return Transition{Next: NodeQuery}, nil
		}},
		&scriptNode{id: NodeQuery, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			st.Append(types.Message{Role: types.RoleTool, Content: "5 listings"})
			return Transition{Next: NodeMain}, nil
		}},
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	res, err := exec.Turn(context.Background(), "thread-1", "two rooms please")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	want := []string{NodeMain, NodeCriteria, NodeQuery, NodeMain}
	if len(res.NodeTrace) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, res.NodeTrace)
	}
	for i := range want {
		if res.NodeTrace[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, res.NodeTrace)
		}
	}
	if res.Reply != "Here is what I found." {
		t.Errorf("unexpected reply: %q", res.Reply)
	}
}

func TestRoutingFaultKeepsLastGoodCheckpoint(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			return Transition{}, &RoutingError{Tool: "to_mortgage_broker"}
		}},
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	_, err = exec.Turn(context.Background(), "thread-1", "hi")
	var routeErr *RoutingError
	if !errors.As(err, &routeErr) {
		t.Fatalf("expected RoutingError, got %v", err)
	}

	// Only the input checkpoint exists; the failed node advanced nothing.
	cps, _ := store.ListCheckpoints(context.Background(), "thread-1", 10)
	if len(cps) != 1 || cps[0].NodeID != "input" {
		t.Errorf("expected the input checkpoint to survive alone, got %+v", cps)
	}
}

func TestTurnStopsAtMaxSteps(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			return Transition{Next: NodeMain}, nil
		}},
	}, WithMaxSteps(3))
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	if _, err := exec.Turn(context.Background(), "thread-1", "hi"); err == nil {
		t.Fatal("expected an error for a non-terminating pipeline")
	}
}

func TestPauseAndResumeApproved(t *testing.T) {
	store := newMemStore()
	call := types.ToolCall{ID: "call-1", Name: "create_property_application", Arguments: []byte(`{}`)}

	tools := &approvalNode{scriptNode: scriptNode{id: NodeTools}}
	tools.run = func(_ context.Context, st *conversation.State) (Transition, error) {
		return Transition{Pause: true, PendingCalls: []types.ToolCall{call}}, nil
	}

	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			for _, msg := range st.Messages {
				if msg.Role == types.RoleTool {
					st.Append(types.Message{Role: types.RoleAssistant, Content: "Done."})
					return Transition{Next: NodeEnd}, nil
				}
			}
			st.Append(types.Message{Role: types.RoleAssistant, Content: "I will submit an application for you."})
			return Transition{Next: NodeTools}, nil
		}},
		tools,
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	ctx := context.Background()

	res, err := exec.Turn(ctx, "thread-1", "please apply for this apartment")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if !res.Paused {
		t.Fatal("expected a paused turn")
	}
	if len(res.PendingCalls) != 1 || res.PendingCalls[0].Name != "create_property_application" {
		t.Fatalf("unexpected pending calls: %+v", res.PendingCalls)
	}

	latest, err := store.LoadLatestCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint failed: %v", err)
	}
	if len(latest.PendingCalls) != 1 || latest.NextNode != NodeTools {
		t.Fatalf("paused checkpoint not recorded: %+v", latest)
	}

	resumed, err := exec.Resume(ctx, "thread-1", true)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !tools.resumed || !tools.approved {
		t.Error("tools node did not receive the approval")
	}
	if resumed.Paused {
		t.Error("resumed turn should not pause again")
	}
	if resumed.Reply != "Done." {
		t.Errorf("unexpected reply: %q", resumed.Reply)
	}

	latest, _ = store.LoadLatestCheckpoint(ctx, "thread-1")
	if len(latest.PendingCalls) != 0 {
		t.Errorf("pending calls must clear after resume: %+v", latest.PendingCalls)
	}
}

func TestResumeDeniedInjectsDeclinedResult(t *testing.T) {
	store := newMemStore()
	call := types.ToolCall{ID: "call-1", Name: "create_property_application", Arguments: []byte(`{}`)}

	tools := &approvalNode{scriptNode: scriptNode{id: NodeTools}}
	tools.run = func(_ context.Context, st *conversation.State) (Transition, error) {
		return Transition{Pause: true, PendingCalls: []types.ToolCall{call}}, nil
	}

	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			if msg, ok := st.LastMessage(); ok && msg.Role == types.RoleTool {
				st.Append(types.Message{Role: types.RoleAssistant, Content: "Understood, I won't submit it."})
				return Transition{Next: NodeEnd}, nil
			}
			return Transition{Next: NodeTools}, nil
		}},
		tools,
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	ctx := context.Background()

	if _, err := exec.Turn(ctx, "thread-1", "apply please"); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	res, err := exec.Resume(ctx, "thread-1", false)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if tools.approved {
		t.Error("tools node should have received a denial")
	}
	if res.Reply != "Understood, I won't submit it." {
		t.Errorf("unexpected reply: %q", res.Reply)
	}

	latest, _ := store.LoadLatestCheckpoint(ctx, "thread-1")
	foundDecline := false
	for _, msg := range latest.State.Messages {
		if msg.Role == types.RoleTool && msg.Content == "Action declined by the user." {
			foundDecline = true
		}
	}
	if !foundDecline {
		t.Error("expected a synthetic declined tool result in history")
	}
}

func TestNewTurnOnPausedThreadDeniesPendingCalls(t *testing.T) {
	store := newMemStore()
	call := types.ToolCall{ID: "call-1", Name: "create_property_application", Arguments: []byte(`{}`)}

	tools := &approvalNode{scriptNode: scriptNode{id: NodeTools}}
	tools.run = func(_ context.Context, st *conversation.State) (Transition, error) {
		return Transition{Pause: true, PendingCalls: []types.ToolCall{call}}, nil
	}

	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		&scriptNode{id: NodeMain, run: func(_ context.Context, st *conversation.State) (Transition, error) {
			if msg, ok := st.LastMessage(); ok && msg.Role == types.RoleUser && msg.Content == "actually show me two bedrooms" {
				st.Append(types.Message{Role: types.RoleAssistant, Content: "Sure, let's look at two-bedroom options."})
				return Transition{Next: NodeEnd}, nil
			}
			return Transition{Next: NodeTools}, nil
		}},
		tools,
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	ctx := context.Background()

	res, err := exec.Turn(ctx, "thread-1", "apply please")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if !res.Paused {
		t.Fatal("expected a paused turn")
	}

	// Sending a new message instead of deciding denies the pending call.
	res, err = exec.Turn(ctx, "thread-1", "actually show me two bedrooms")
	if err != nil {
		t.Fatalf("second Turn failed: %v", err)
	}
	if res.Paused {
		t.Error("superseding turn should not stay paused")
	}
	if tools.resumed {
		t.Error("tools node must not run the abandoned call")
	}

	latest, err := store.LoadLatestCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint failed: %v", err)
	}
	if len(latest.PendingCalls) != 0 {
		t.Errorf("pending calls must clear: %+v", latest.PendingCalls)
	}
	found := false
	for _, msg := range latest.State.Messages {
		if msg.Role == types.RoleTool && msg.ToolCallID == "call-1" && msg.Content == supersededCallResult {
			found = true
		}
	}
	if !found {
		t.Error("expected a declined tool result for the superseded call")
	}

	if _, err := exec.Resume(ctx, "thread-1", true); !errors.Is(err, ErrNoPendingApproval) {
		t.Errorf("Resume after supersession should report no pending approval, got %v", err)
	}
}

func TestResumeWithoutPendingApproval(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		replyNode(NodeMain, "hi", NodeEnd),
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	ctx := context.Background()

	if _, err := exec.Resume(ctx, "ghost", true); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}

	if _, err := exec.Turn(ctx, "thread-1", "hi"); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if _, err := exec.Resume(ctx, "thread-1", true); !errors.Is(err, ErrNoPendingApproval) {
		t.Errorf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestConcurrentTurnLoserGetsConflict(t *testing.T) {
	store := newMemStore()
	exec, err := NewExecutor(conversation.NewCheckpointer(store), NodeMain, []Node{
		replyNode(NodeMain, "hello", NodeEnd),
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	ctx := context.Background()

	if _, err := exec.Turn(ctx, "thread-1", "first"); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	// A competing execution claims the next seq between this turn's load
	// and its input write.
	injected := false
	store.beforeSave = func(cp conversation.Checkpoint) error {
		if injected {
			return nil
		}
		injected = true
		store.byThread[cp.ThreadID] = append(store.byThread[cp.ThreadID], conversation.Checkpoint{
			ID:       "competitor",
			ThreadID: cp.ThreadID,
			Seq:      cp.Seq,
			NodeID:   "input",
		})
		return nil
	}

	_, err = exec.Turn(ctx, "thread-1", "second")
	if !errors.Is(err, conversation.ErrConflict) {
		t.Fatalf("expected ErrConflict for the losing turn, got %v", err)
	}
}

func TestNewExecutorValidation(t *testing.T) {
	store := newMemStore()
	cpr := conversation.NewCheckpointer(store)

	if _, err := NewExecutor(cpr, NodeMain, nil); err == nil {
		t.Error("expected an error for an empty node set")
	}
	if _, err := NewExecutor(cpr, "missing", []Node{replyNode(NodeMain, "x", NodeEnd)}); err == nil {
		t.Error("expected an error for an unknown start node")
	}
	dup := []Node{replyNode(NodeMain, "x", NodeEnd), replyNode(NodeMain, "y", NodeEnd)}
	if _, err := NewExecutor(cpr, NodeMain, dup); err == nil {
		t.Error("expected an error for duplicate node ids")
	}
}
