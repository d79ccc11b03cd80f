package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/observe"
	"github.com/archiq/assistant/types"
)

const declinedToolResult = "Action declined by the user. Do not retry it; acknowledge the decision and ask how else you can help."

// ToolsNode executes the tool calls of the newest assistant message. A
// batch containing a side-effecting tool pauses the turn for approval
// instead of executing; the executor resumes it with the user's decision.
// Executed results feed back into the reference stage.
type ToolsNode struct {
	tools *Registry
	sink  observe.Sink
}

func NewToolsNode(tools *Registry) *ToolsNode {
	return &ToolsNode{tools: tools, sink: observe.NoopSink{}}
}

// WithObserver routes tool execution events to the sink.
func (n *ToolsNode) WithObserver(sink observe.Sink) *ToolsNode {
	if sink != nil {
		n.sink = sink
	}
	return n
}

func (n *ToolsNode) ID() string { return graph.NodeTools }

func (n *ToolsNode) Run(ctx context.Context, st *conversation.State) (graph.Transition, error) {
	calls := pendingToolCalls(st)
	if len(calls) == 0 {
		return graph.Transition{Next: graph.NodeMain}, nil
	}

	for _, call := range calls {
		tool, ok := n.tools.Get(call.Name)
		if ok && requiresApproval(tool) {
			return graph.Transition{Pause: true, PendingCalls: calls}, nil
		}
	}

	n.executeCalls(ctx, st, calls)
	return graph.Transition{Next: graph.NodeReference}, nil
}

// Resume completes a paused batch. Approval executes it; denial injects
// synthetic declined results and returns straight to the main persona.
func (n *ToolsNode) Resume(ctx context.Context, st *conversation.State, calls []types.ToolCall, approved bool) (graph.Transition, error) {
	if !approved {
		for _, call := range calls {
			st.Append(types.Message{
				Role:       types.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    declinedToolResult,
			})
		}
		return graph.Transition{Next: graph.NodeMain}, nil
	}

	n.executeCalls(ctx, st, calls)
	return graph.Transition{Next: graph.NodeReference}, nil
}

func (n *ToolsNode) executeCalls(ctx context.Context, st *conversation.State, calls []types.ToolCall) {
	for _, call := range calls {
		st.Append(types.Message{
			Role:       types.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    n.executeOne(ctx, st.ThreadID, call),
		})
	}
}

// executeOne never fails the turn: tool errors become tool results so the
// reference stage can explain the problem conversationally.
func (n *ToolsNode) executeOne(ctx context.Context, threadID string, call types.ToolCall) string {
	_ = n.sink.Emit(ctx, observe.Event{
		Kind: observe.KindTool, Status: observe.StatusStarted,
		ThreadID: threadID, ToolName: call.Name,
	})
	started := time.Now()

	result, toolErr := n.runTool(ctx, call)

	ev := observe.Event{
		Kind: observe.KindTool, Status: observe.StatusCompleted,
		ThreadID: threadID, ToolName: call.Name,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if toolErr != "" {
		ev.Status = observe.StatusFailed
		ev.Error = toolErr
	}
	_ = n.sink.Emit(ctx, ev)
	return result
}

// runTool returns the tool result text and, when the call went wrong, the
// underlying fault for observability.
func (n *ToolsNode) runTool(ctx context.Context, call types.ToolCall) (string, string) {
	tool, ok := n.tools.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("Tool %q is not available.", call.Name)
		return msg, msg
	}

	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Tool %q failed: %v", call.Name, err), err.Error()
	}

	switch v := out.(type) {
	case string:
		return v, ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			msg := fmt.Sprintf("Tool %q returned an unencodable result.", call.Name)
			return msg, msg
		}
		return string(raw), ""
	}
}

func pendingToolCalls(st *conversation.State) []types.ToolCall {
	msg, ok := st.LastMessage()
	if !ok || msg.Role != types.RoleAssistant {
		return nil
	}
	return msg.ToolCalls
}
