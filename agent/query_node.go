package agent

import (
	"context"
	"fmt"

	"github.com/archiq/assistant/catalog"
	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/types"
)

// QueryNode runs the accumulated criteria against the catalog. The engine
// may roll a filter back; whatever criteria it settles on are persisted so
// the next turn starts from what was actually applied.
type QueryNode struct {
	engine *catalog.QueryEngine
}

func NewQueryNode(engine *catalog.QueryEngine) *QueryNode {
	return &QueryNode{engine: engine}
}

func (n *QueryNode) ID() string { return graph.NodeQuery }

func (n *QueryNode) Run(ctx context.Context, st *conversation.State) (graph.Transition, error) {
	result, err := n.engine.Query(ctx, st.Criteria)
	if err != nil {
		return graph.Transition{}, fmt.Errorf("catalog query failed: %w", err)
	}

	st.Criteria = result.Criteria

	st.Append(types.Message{
		Role:    types.RoleTool,
		Name:    graph.NodeQuery,
		Content: result.Message,
	})
	return graph.Transition{Next: graph.NodeMain}, nil
}
