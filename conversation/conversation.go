// Package conversation holds the durable per-thread dialogue state: the
// append-only message history, the accumulated search criteria, and the
// checkpoint records that make a thread resumable across process restarts.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/archiq/assistant/criteria"
	"github.com/archiq/assistant/types"
)

var (
	ErrNotFound = errors.New("conversation: not found")
	// ErrConflict signals a stale checkpoint write: another execution of the
	// same thread advanced the step counter first. The loser must not retry
	// blindly; the in-flight turn is rejected back to the caller.
	ErrConflict = errors.New("conversation: checkpoint conflict")
)

// State is the value passed between graph nodes. Nodes receive a snapshot
// assembled from the latest checkpoint and mutate their copy; only the
// checkpointer persists it.
type State struct {
	ThreadID        string            `json:"threadId"`
	Messages        []types.Message   `json:"messages"`
	Criteria        criteria.Criteria `json:"searchCriteria"`
	LastUpdatedKeys []string          `json:"lastUpdatedKeys,omitempty"`
}

// Append extends the message history. History is append-only: entries are
// never rewritten or dropped, only extended.
func (s *State) Append(msgs ...types.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// LastMessage returns the newest message, if any.
func (s *State) LastMessage() (types.Message, bool) {
	if len(s.Messages) == 0 {
		return types.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy so a node re-run cannot observe mutations from
// a previous attempt.
func (s State) Clone() State {
	out := s
	out.Messages = append([]types.Message(nil), s.Messages...)
	out.LastUpdatedKeys = append([]string(nil), s.LastUpdatedKeys...)
	return out
}

// Checkpoint is an immutable snapshot of a thread's state plus routing
// metadata, ordered by a monotonic per-thread step counter. Superseded
// checkpoints are retained for audit and resume; the one with the highest
// Seq is authoritative.
type Checkpoint struct {
	ID           string           `json:"id"`
	ThreadID     string           `json:"threadId"`
	Seq          int              `json:"seq"`
	NodeID       string           `json:"nodeId"`
	NextNode     string           `json:"nextNode,omitempty"`
	PendingCalls []types.ToolCall `json:"pendingCalls,omitempty"`
	State        State            `json:"state"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Store persists checkpoints. Implementations must reject a duplicate
// (thread_id, seq) pair with ErrConflict; that uniqueness check is what
// serializes concurrent executions of one thread.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadLatestCheckpoint(ctx context.Context, threadID string) (Checkpoint, error)
	ListCheckpoints(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)
	// PurgeThread removes every checkpoint of a thread. Idempotent.
	PurgeThread(ctx context.Context, threadID string) error
	// PruneSuperseded deletes all but the newest keep checkpoints per
	// thread, returning the number of rows removed.
	PruneSuperseded(ctx context.Context, keep int) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
