package graph

import (
	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/types"
)

// Router maps delegation tool names to node identifiers. The route set is
// closed: a tool call whose name is not registered is a RoutingError, never
// a silent fallthrough.
type Router struct {
	routes map[string]string
}

func NewRouter(routes map[string]string) *Router {
	copied := make(map[string]string, len(routes))
	for name, nodeID := range routes {
		copied[name] = nodeID
	}
	return &Router{routes: copied}
}

// Route inspects only the first tool call of the newest assistant message.
// An assistant message without tool calls ends the turn; any trailing calls
// beyond the first are ignored.
func (r *Router) Route(st *conversation.State) (string, error) {
	if st == nil {
		return NodeEnd, nil
	}
	msg, ok := st.LastMessage()
	if !ok || msg.Role != types.RoleAssistant {
		return NodeEnd, nil
	}
	call, ok := msg.FirstToolCall()
	if !ok {
		return NodeEnd, nil
	}
	next, ok := r.routes[call.Name]
	if !ok {
		return "", &RoutingError{Tool: call.Name}
	}
	return next, nil
}

// Routes returns the registered tool names, for introspection.
func (r *Router) Routes() map[string]string {
	out := make(map[string]string, len(r.routes))
	for name, nodeID := range r.routes {
		out[name] = nodeID
	}
	return out
}
