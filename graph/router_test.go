package graph

import (
	"errors"
	"testing"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/types"
)

func newTestRouter() *Router {
	return NewRouter(map[string]string{
		"to_search_criteria": NodeCriteria,
		"to_reference":       NodeReference,
	})
}

func TestRoutePlainReplyEndsTurn(t *testing.T) {
	st := &conversation.State{Messages: []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "Hello!"},
	}}

	next, err := newTestRouter().Route(st)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if next != NodeEnd {
		t.Errorf("expected end, got %q", next)
	}
}

func TestRouteFollowsFirstToolCall(t *testing.T) {
	st := &conversation.State{Messages: []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "to_search_criteria"},
			{ID: "c2", Name: "to_reference"},
		}},
	}}

	next, err := newTestRouter().Route(st)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if next != NodeCriteria {
		t.Errorf("expected %q, got %q", NodeCriteria, next)
	}
}

func TestRouteUnknownToolIsFatal(t *testing.T) {
	st := &conversation.State{Messages: []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "to_mortgage"}}},
	}}

	_, err := newTestRouter().Route(st)
	var routeErr *RoutingError
	if !errors.As(err, &routeErr) {
		t.Fatalf("expected RoutingError, got %v", err)
	}
	if routeErr.Tool != "to_mortgage" {
		t.Errorf("unexpected tool in error: %q", routeErr.Tool)
	}
}

func TestRouteIgnoresNonAssistantTail(t *testing.T) {
	st := &conversation.State{Messages: []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "to_search_criteria"}}},
		{Role: types.RoleTool, Content: "result"},
	}}

	next, err := newTestRouter().Route(st)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if next != NodeEnd {
		t.Errorf("expected end when newest message is not from the assistant, got %q", next)
	}
}

func TestRouteEmptyState(t *testing.T) {
	next, err := newTestRouter().Route(&conversation.State{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if next != NodeEnd {
		t.Errorf("expected end for an empty thread, got %q", next)
	}
}
