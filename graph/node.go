// Package graph runs the routed dialogue pipeline: a set of named nodes,
// a tool-call router, and an executor that advances one chat turn at a
// time, checkpointing every transition.
package graph

import (
	"context"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/types"
)

// Node identifiers. NodeEnd is a terminal marker, not a runnable node.
const (
	NodeMain      = "main"
	NodeCriteria  = "search_criteria"
	NodeQuery     = "query_catalog"
	NodeReference = "reference"
	NodeTools     = "tools"
	NodeEnd       = "end"
)

// Transition is a node's verdict for the turn: where control goes next,
// or a pause when a side-effecting tool needs the user's approval first.
type Transition struct {
	Next         string
	Pause        bool
	PendingCalls []types.ToolCall
}

// Node is one stage of the pipeline. Run mutates the state snapshot it is
// handed; the executor persists the snapshot after the node returns, so a
// node must tolerate being re-run from its input checkpoint.
type Node interface {
	ID() string
	Run(ctx context.Context, st *conversation.State) (Transition, error)
}

// Resumable is implemented by nodes that can pause a turn. The executor
// hands back the pending calls together with the user's decision.
type Resumable interface {
	Resume(ctx context.Context, st *conversation.State, calls []types.ToolCall, approved bool) (Transition, error)
}
