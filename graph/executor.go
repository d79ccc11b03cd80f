package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/observe"
	"github.com/archiq/assistant/types"
)

const (
	defaultMaxSteps    = 12
	defaultTurnTimeout = 90 * time.Second

	// nodeID recorded on the checkpoint that captures the incoming user
	// message, before any pipeline node has run.
	inputNodeID = "input"

	// Tool result injected for calls the user abandoned by sending a new
	// message instead of an approval decision.
	supersededCallResult = "The user moved on without approving this action. It was not performed."
)

// Executor advances one chat turn at a time through the node pipeline. It
// is synchronous: a turn runs nodes until one of them ends the turn, pauses
// for approval, or fails, and every transition lands in the checkpoint
// store before control moves on.
type Executor struct {
	nodes       map[string]Node
	start       string
	checkpoints *conversation.Checkpointer
	sink        observe.Sink
	maxSteps    int
	turnTimeout time.Duration
}

type ExecutorOption func(*Executor)

func WithObserver(sink observe.Sink) ExecutorOption {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithTurnTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.turnTimeout = d
		}
	}
}

func NewExecutor(checkpoints *conversation.Checkpointer, start string, nodes []Node, opts ...ExecutorOption) (*Executor, error) {
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one node is required")
	}

	byID := make(map[string]Node, len(nodes))
	for _, node := range nodes {
		if node == nil || node.ID() == "" {
			return nil, fmt.Errorf("node with empty id")
		}
		if _, exists := byID[node.ID()]; exists {
			return nil, fmt.Errorf("duplicate node id %q", node.ID())
		}
		byID[node.ID()] = node
	}
	if _, ok := byID[start]; !ok {
		return nil, fmt.Errorf("start node %q does not exist", start)
	}

	e := &Executor{
		nodes:       byID,
		start:       start,
		checkpoints: checkpoints,
		sink:        observe.NoopSink{},
		maxSteps:    defaultMaxSteps,
		turnTimeout: defaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// TurnResult is what one chat turn produced. When Paused is true the turn
// stopped at an approval gate and Reply describes the pending action.
type TurnResult struct {
	ThreadID     string
	TurnID       string
	Reply        string
	Paused       bool
	PendingCalls []types.ToolCall
	Seq          int
	NodeTrace    []string
}

// Turn appends the user message to the thread and runs the pipeline until
// the turn ends. Concurrent turns on one thread race on the first
// checkpoint write; the loser surfaces conversation.ErrConflict untouched.
func (e *Executor) Turn(ctx context.Context, threadID, userMessage string) (TurnResult, error) {
	if threadID == "" {
		return TurnResult{}, fmt.Errorf("threadID is required")
	}
	if userMessage == "" {
		return TurnResult{}, fmt.Errorf("user message is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	st, seq, pending, err := e.loadThread(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}

	turnID := uuid.NewString()
	started := time.Now().UTC()
	e.emit(ctx, observe.Event{
		Kind: observe.KindTurn, Status: observe.StatusStarted,
		ThreadID: threadID, TurnID: turnID,
	})

	// A new message on a thread still waiting for an approval decision is
	// an implicit denial: the pending calls get declined results so the
	// side effect never runs silently and the history stays coherent.
	for _, call := range pending {
		st.Append(types.Message{
			Role:       types.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    supersededCallResult,
		})
	}

	st.Append(types.Message{Role: types.RoleUser, Content: userMessage})

	// The input checkpoint secures the user message before any node runs
	// and doubles as the per-thread mutual exclusion point.
	seq++
	if _, err := e.saveCheckpoint(ctx, threadID, seq, inputNodeID, e.start, nil, st); err != nil {
		e.emitTurnOutcome(ctx, threadID, turnID, started, err)
		return TurnResult{}, err
	}

	result, err := e.runLoop(ctx, threadID, turnID, st, seq, e.start)
	e.emitTurnOutcome(ctx, threadID, turnID, started, err)
	return result, err
}

// Resume completes a turn paused at an approval gate. approved executes the
// pending calls; a denial injects synthetic declined tool results so the
// conversation can continue without the side effect.
func (e *Executor) Resume(ctx context.Context, threadID string, approved bool) (TurnResult, error) {
	if threadID == "" {
		return TurnResult{}, fmt.Errorf("threadID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	cp, err := e.checkpoints.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return TurnResult{}, ErrThreadNotFound
		}
		return TurnResult{}, err
	}
	if len(cp.PendingCalls) == 0 {
		return TurnResult{}, ErrNoPendingApproval
	}

	node, ok := e.nodes[cp.NextNode]
	if !ok {
		return TurnResult{}, &RoutingError{Tool: cp.NextNode}
	}
	resumable, ok := node.(Resumable)
	if !ok {
		return TurnResult{}, fmt.Errorf("node %q cannot resume a paused turn", cp.NextNode)
	}

	turnID := uuid.NewString()
	started := time.Now().UTC()
	e.emit(ctx, observe.Event{
		Kind: observe.KindTurn, Status: observe.StatusStarted,
		ThreadID: threadID, TurnID: turnID,
		Attributes: map[string]any{"resume": true, "approved": approved},
	})

	st := cp.State.Clone()
	tr, err := resumable.Resume(ctx, &st, cp.PendingCalls, approved)
	if err != nil {
		nerr := &NodeError{NodeID: cp.NextNode, Err: err}
		e.emitTurnOutcome(ctx, threadID, turnID, started, nerr)
		return TurnResult{}, nerr
	}

	seq := cp.Seq + 1
	if _, err := e.saveCheckpoint(ctx, threadID, seq, cp.NextNode, tr.Next, nil, st); err != nil {
		e.emitTurnOutcome(ctx, threadID, turnID, started, err)
		return TurnResult{}, err
	}

	result, err := e.runLoop(ctx, threadID, turnID, st, seq, tr.Next)
	e.emitTurnOutcome(ctx, threadID, turnID, started, err)
	return result, err
}

func (e *Executor) runLoop(ctx context.Context, threadID, turnID string, st conversation.State, seq int, current string) (TurnResult, error) {
	trace := []string{}

	for steps := 0; current != "" && current != NodeEnd; steps++ {
		if steps >= e.maxSteps {
			return TurnResult{}, fmt.Errorf("turn exceeded %d node transitions", e.maxSteps)
		}

		node, ok := e.nodes[current]
		if !ok {
			return TurnResult{}, &RoutingError{Tool: current}
		}

		e.emit(ctx, observe.Event{
			Kind: observe.KindNode, Status: observe.StatusStarted,
			ThreadID: threadID, TurnID: turnID, NodeID: current,
		})

		nodeStart := time.Now()
		tr, err := node.Run(ctx, &st)
		if err != nil {
			e.emit(ctx, observe.Event{
				Kind: observe.KindNode, Status: observe.StatusFailed,
				ThreadID: threadID, TurnID: turnID, NodeID: current,
				Error: err.Error(),
			})
			return TurnResult{}, &NodeError{NodeID: current, Err: err}
		}

		seq++
		if tr.Pause {
			// The paused checkpoint records the calls awaiting a decision;
			// NextNode stays on this node so Resume lands back here.
			if _, err := e.saveCheckpoint(ctx, threadID, seq, current, current, tr.PendingCalls, st); err != nil {
				return TurnResult{}, err
			}
			trace = append(trace, current)
			return TurnResult{
				ThreadID:     threadID,
				TurnID:       turnID,
				Reply:        lastAssistantText(st),
				Paused:       true,
				PendingCalls: tr.PendingCalls,
				Seq:          seq,
				NodeTrace:    trace,
			}, nil
		}

		if _, err := e.saveCheckpoint(ctx, threadID, seq, current, tr.Next, nil, st); err != nil {
			return TurnResult{}, err
		}

		e.emit(ctx, observe.Event{
			Kind: observe.KindNode, Status: observe.StatusCompleted,
			ThreadID: threadID, TurnID: turnID, NodeID: current,
			DurationMs: time.Since(nodeStart).Milliseconds(),
		})

		trace = append(trace, current)
		current = tr.Next
	}

	return TurnResult{
		ThreadID:  threadID,
		TurnID:    turnID,
		Reply:     lastAssistantText(st),
		Seq:       seq,
		NodeTrace: trace,
	}, nil
}

func (e *Executor) loadThread(ctx context.Context, threadID string) (conversation.State, int, []types.ToolCall, error) {
	cp, err := e.checkpoints.Latest(ctx, threadID)
	if errors.Is(err, conversation.ErrNotFound) {
		return conversation.State{ThreadID: threadID}, -1, nil, nil
	}
	if err != nil {
		return conversation.State{}, 0, nil, err
	}
	return cp.State.Clone(), cp.Seq, cp.PendingCalls, nil
}

func (e *Executor) saveCheckpoint(ctx context.Context, threadID string, seq int, nodeID, nextNode string, pending []types.ToolCall, st conversation.State) (conversation.Checkpoint, error) {
	cp, err := e.checkpoints.Save(ctx, conversation.Checkpoint{
		ThreadID:     threadID,
		Seq:          seq,
		NodeID:       nodeID,
		NextNode:     nextNode,
		PendingCalls: pending,
		State:        st,
	})
	if err != nil {
		return conversation.Checkpoint{}, err
	}
	e.emit(ctx, observe.Event{
		Kind: observe.KindCheckpoint, Status: observe.StatusCompleted,
		ThreadID: threadID, NodeID: nodeID,
		Attributes: map[string]any{"seq": seq, "nextNode": nextNode},
	})
	return cp, nil
}

func (e *Executor) emitTurnOutcome(ctx context.Context, threadID, turnID string, started time.Time, err error) {
	ev := observe.Event{
		Kind: observe.KindTurn, Status: observe.StatusCompleted,
		ThreadID: threadID, TurnID: turnID,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		ev.Status = observe.StatusFailed
		ev.Error = err.Error()
	}
	e.emit(ctx, ev)
}

func (e *Executor) emit(ctx context.Context, ev observe.Event) {
	if e.sink == nil {
		return
	}
	_ = e.sink.Emit(ctx, ev)
}

func lastAssistantText(st conversation.State) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == types.RoleAssistant && st.Messages[i].Content != "" {
			return st.Messages[i].Content
		}
	}
	return ""
}
