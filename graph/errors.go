package graph

import (
	"errors"
	"fmt"
)

// ErrNoPendingApproval is returned by Resume when the thread's latest
// checkpoint is not paused on a tool approval.
var ErrNoPendingApproval = errors.New("graph: no pending approval for thread")

// ErrThreadNotFound is returned when a turn references a thread operation
// that requires existing history and none exists.
var ErrThreadNotFound = errors.New("graph: thread not found")

// RoutingError is fatal: the model named a delegation target outside the
// closed route set, so the turn cannot proceed safely.
type RoutingError struct {
	Tool string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("graph: no route for tool call %q", e.Tool)
}

// NodeError wraps a node failure with the node that produced it.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph: node %q failed: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
