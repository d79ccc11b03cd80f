package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/types"
)

type memStore struct {
	mu         sync.Mutex
	byThread   map[string][]conversation.Checkpoint
	pingErr    error
	beforeSave func(cp conversation.Checkpoint)
}

func newMemStore() *memStore {
	return &memStore{byThread: map[string][]conversation.Checkpoint{}}
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp conversation.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeSave != nil {
		m.beforeSave(cp)
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

func (m *memStore) PruneSuperseded(_ context.Context, keep int) (int, error) { return 0, nil }

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) Close() error { return nil }

type replyNode struct {
	id    string
	reply string
}

func (n replyNode) ID() string { return n.id }

func (n replyNode) Run(_ context.Context, st *conversation.State) (graph.Transition, error) {
	st.Append(types.Message{Role: types.RoleAssistant, Content: n.reply})
	return graph.Transition{Next: graph.NodeEnd}, nil
}

type pausingNode struct {
	id string
}

func (n *pausingNode) ID() string { return n.id }

func (n *pausingNode) Run(_ context.Context, st *conversation.State) (graph.Transition, error) {
	call := types.ToolCall{ID: "call-1", Name: "create_property_application"}
	st.Append(types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{call}})
	return graph.Transition{Pause: true, PendingCalls: []types.ToolCall{call}}, nil
}

func (n *pausingNode) Resume(_ context.Context, st *conversation.State, calls []types.ToolCall, approved bool) (graph.Transition, error) {
	verdict := "approved"
	if !approved {
		verdict = "declined"
	}
	for _, call := range calls {
		st.Append(types.Message{Role: types.RoleTool, Name: call.Name, ToolCallID: call.ID, Content: verdict})
	}
	st.Append(types.Message{Role: types.RoleAssistant, Content: "Action " + verdict + "."})
	return graph.Transition{Next: graph.NodeEnd}, nil
}

func newTestServer(t *testing.T, store conversation.Store, nodes ...graph.Node) *Server {
	t.Helper()
	checkpoints := conversation.NewCheckpointer(store)
	if len(nodes) == 0 {
		nodes = []graph.Node{replyNode{id: graph.NodeMain, reply: "Hello from Amina."}}
	}
	exec, err := graph.NewExecutor(checkpoints, graph.NodeMain, nodes)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	srv, err := NewServer(exec, checkpoints, "")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestChatRunsTurn(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeChat(t, rec)
	if resp.ThreadID == "" {
		t.Fatal("expected a generated thread id")
	}
	if resp.Reply != "Hello from Amina." {
		t.Fatalf("reply = %q", resp.Reply)
	}
	if resp.Paused {
		t.Fatal("plain reply should not pause")
	}
}

func TestChatReusesThreadHistory(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store)
	handler := srv.Handler()

	first := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"}))
	second := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{ThreadID: first.ThreadID, Message: "again"}))

	if second.ThreadID != first.ThreadID {
		t.Fatalf("thread id changed: %q vs %q", first.ThreadID, second.ThreadID)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("seq did not advance: %d then %d", first.Seq, second.Seq)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/threads/"+first.ThreadID+"/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rec.Code)
	}
	var payload struct {
		Messages []types.Message `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(payload.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(payload.Messages))
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", chatRequest{Message: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatConflictMapsTo409(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store)
	handler := srv.Handler()

	first := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"}))

	// A competing execution claims the same seq just before our write lands.
	injected := false
	store.beforeSave = func(cp conversation.Checkpoint) {
		if injected {
			return
		}
		injected = true
		store.byThread[cp.ThreadID] = append(store.byThread[cp.ThreadID], conversation.Checkpoint{
			ID: "competitor", ThreadID: cp.ThreadID, Seq: cp.Seq, NodeID: cp.NodeID,
		})
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{ThreadID: first.ThreadID, Message: "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestResumeApprovedCompletesTurn(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &pausingNode{id: graph.NodeMain})
	handler := srv.Handler()

	paused := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "sign me up"}))
	if !paused.Paused {
		t.Fatal("expected a paused turn")
	}
	if len(paused.PendingCalls) != 1 {
		t.Fatalf("pending calls = %d", len(paused.PendingCalls))
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/threads/"+paused.ThreadID+"/resume", resumeRequest{Approved: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body %s", rec.Code, rec.Body.String())
	}
	resumed := decodeChat(t, rec)
	if resumed.Paused {
		t.Fatal("resumed turn should complete")
	}
	if resumed.Reply != "Action approved." {
		t.Fatalf("reply = %q", resumed.Reply)
	}
}

func TestResumeWithoutPendingApproval(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	handler := srv.Handler()

	done := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"}))

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/threads/"+done.ThreadID+"/resume", resumeRequest{Approved: true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestResumeUnknownThreadIs404(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/threads/ghost/resume", resumeRequest{Approved: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCheckpointsEndpointListsNewestFirst(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	handler := srv.Handler()

	done := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"}))

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/threads/"+done.ThreadID+"/checkpoints", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Checkpoints []conversation.Checkpoint `json:"checkpoints"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Checkpoints) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(payload.Checkpoints))
	}
	if payload.Checkpoints[0].Seq <= payload.Checkpoints[1].Seq {
		t.Fatal("expected newest-first ordering")
	}
}

func TestCheckpointsRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/threads/t1/checkpoints?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteThreadPurges(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	handler := srv.Handler()

	done := decodeChat(t, doJSON(t, handler, http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"}))

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/threads/"+done.ThreadID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/threads/"+done.ThreadID+"/messages", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("messages after purge status = %d", rec.Code)
	}
}

func TestHealthzReflectsStore(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	store.mu.Lock()
	store.pingErr = errors.New("down")
	store.mu.Unlock()

	rec = doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestInternalFaultHidesCause(t *testing.T) {
	boom := faultNode{id: graph.NodeMain}
	srv := newTestServer(t, newMemStore(), boom)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/chat", chatRequest{Message: "hi"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != unavailableReply {
		t.Fatalf("error = %q", payload["error"])
	}
}

type faultNode struct {
	id string
}

func (n faultNode) ID() string { return n.id }

func (n faultNode) Run(context.Context, *conversation.State) (graph.Transition, error) {
	return graph.Transition{}, fmt.Errorf("provider exploded")
}
