package agent

import (
	"context"
	"fmt"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/llm"
	"github.com/archiq/assistant/types"
)

// Delegation tool names the main persona may call. The set is closed; the
// router treats anything else as a fatal routing fault.
const (
	ToolToSearchCriteria = "to_search_criteria"
	ToolToReference      = "to_reference"
)

type criteriaDelegationArgs struct {
	Request string `json:"request" jsonschema:"description=The client's search requirement in their own words"`
}

type referenceDelegationArgs struct {
	Request string `json:"request" jsonschema:"description=The factual question or action the client asked for"`
}

// MainNode is the fronting sales persona. Every turn starts here, and every
// delegated stage hands control back here before the turn can end.
type MainNode struct {
	provider    llm.Provider
	router      *graph.Router
	delegations []types.ToolDefinition
	temperature float64
}

func NewMainNode(provider llm.Provider) *MainNode {
	return &MainNode{
		provider: provider,
		router: graph.NewRouter(map[string]string{
			ToolToSearchCriteria: graph.NodeCriteria,
			ToolToReference:      graph.NodeReference,
		}),
		delegations: []types.ToolDefinition{
			{
				Name:        ToolToSearchCriteria,
				Description: "Transfer the conversation to the search criteria assistant when the client states or changes apartment search requirements.",
				JSONSchema:  mustSchema(&criteriaDelegationArgs{}),
			},
			{
				Name:        ToolToReference,
				Description: "Transfer the conversation to the reference assistant for factual questions about districts, complexes, availability, or to submit a purchase application.",
				JSONSchema:  mustSchema(&referenceDelegationArgs{}),
			},
		},
		temperature: 0.7,
	}
}

func (n *MainNode) ID() string { return graph.NodeMain }

func (n *MainNode) Run(ctx context.Context, st *conversation.State) (graph.Transition, error) {
	resp, err := n.provider.Generate(ctx, types.Request{
		SystemPrompt: mainSystemPrompt,
		Messages:     st.Messages,
		Tools:        n.delegations,
		Temperature:  &n.temperature,
	})
	if err != nil {
		return graph.Transition{}, fmt.Errorf("completion failed: %w", err)
	}

	msg := resp.Message
	msg.Role = types.RoleAssistant
	st.Append(msg)

	next, err := n.router.Route(st)
	if err != nil {
		return graph.Transition{}, err
	}
	return graph.Transition{Next: next}, nil
}
