package agent

import (
	"context"
	"fmt"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/llm"
	"github.com/archiq/assistant/types"
)

// ReferenceNode answers factual questions against the catalog. It may call
// its tools any number of times; each batch of calls routes through the
// tool stage and re-enters this node, and only a plain completion hands
// control back to the main persona.
type ReferenceNode struct {
	provider llm.Provider
	tools    *Registry
}

func NewReferenceNode(provider llm.Provider, tools *Registry) *ReferenceNode {
	return &ReferenceNode{provider: provider, tools: tools}
}

func (n *ReferenceNode) ID() string { return graph.NodeReference }

func (n *ReferenceNode) Run(ctx context.Context, st *conversation.State) (graph.Transition, error) {
	resp, err := n.provider.Generate(ctx, types.Request{
		SystemPrompt: referenceSystemPrompt,
		Messages:     st.Messages,
		Tools:        n.tools.Definitions(),
	})
	if err != nil {
		return graph.Transition{}, fmt.Errorf("completion failed: %w", err)
	}

	msg := resp.Message
	msg.Role = types.RoleAssistant
	st.Append(msg)

	if _, ok := msg.FirstToolCall(); ok {
		return graph.Transition{Next: graph.NodeTools}, nil
	}
	return graph.Transition{Next: graph.NodeMain}, nil
}
