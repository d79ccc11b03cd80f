package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/criteria"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/llm"
	"github.com/archiq/assistant/types"
)

// CriteriaNode extracts search criteria from the delegated request as a
// structured completion, validates the raw JSON, and folds the update into
// the thread's accumulated criteria. Extraction failures are conversational
// faults: the criteria stay unchanged, a diagnostic reply is emitted, and
// the turn continues into the catalog query.
type CriteriaNode struct {
	provider llm.Provider
	schema   *gojsonschema.Schema
}

func NewCriteriaNode(provider llm.Provider) (*CriteriaNode, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(criteria.JSONSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile criteria schema: %w", err)
	}
	return &CriteriaNode{provider: provider, schema: schema}, nil
}

func (n *CriteriaNode) ID() string { return graph.NodeCriteria }

func (n *CriteriaNode) Run(ctx context.Context, st *conversation.State) (graph.Transition, error) {
	call, request := delegatedRequest(st, ToolToSearchCriteria)

	currentJSON, err := json.Marshal(st.Criteria)
	if err != nil {
		return graph.Transition{}, fmt.Errorf("failed to encode current criteria: %w", err)
	}

	resp, err := n.provider.Generate(ctx, types.Request{
		SystemPrompt: criteriaSystemPrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "Current criteria: " + string(currentJSON)},
			{Role: types.RoleUser, Content: "User query: " + request},
		},
		ResponseSchema: criteria.JSONSchema(),
	})
	if err != nil {
		// A dead turn context is not recoverable within this turn; any
		// other completion failure degrades like malformed output does.
		if ctx.Err() != nil {
			return graph.Transition{}, fmt.Errorf("completion failed: %w", err)
		}
		return n.degrade(st, call), nil
	}

	update, err := n.parseUpdate(resp.Message.Content)
	if err != nil {
		return n.degrade(st, call), nil
	}

	st.Criteria = criteria.Merge(st.Criteria, update)
	st.LastUpdatedKeys = update.Keys()

	n.appendHandoff(st, call)
	st.Append(types.Message{Role: types.RoleAssistant, Content: describeUpdate(update)})
	return graph.Transition{Next: graph.NodeQuery}, nil
}

// degrade keeps the criteria untouched and answers with a diagnostic
// reply; the turn still flows through the catalog query.
func (n *CriteriaNode) degrade(st *conversation.State, call *types.ToolCall) graph.Transition {
	n.appendHandoff(st, call)
	st.Append(types.Message{
		Role:    types.RoleAssistant,
		Content: "I couldn't quite work out the search requirements from that. Could you rephrase what you're looking for?",
	})
	st.LastUpdatedKeys = nil
	return graph.Transition{Next: graph.NodeQuery}
}

func (n *CriteriaNode) parseUpdate(content string) (criteria.Criteria, error) {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return criteria.Criteria{}, fmt.Errorf("empty extraction output")
	}

	result, err := n.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return criteria.Criteria{}, fmt.Errorf("criteria output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return criteria.Criteria{}, fmt.Errorf("criteria output failed schema validation: %s", strings.Join(details, "; "))
	}

	var update criteria.Criteria
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return criteria.Criteria{}, fmt.Errorf("failed to decode criteria output: %w", err)
	}
	return update, nil
}

func (n *CriteriaNode) appendHandoff(st *conversation.State, call *types.ToolCall) {
	if call == nil {
		return
	}
	st.Append(types.Message{
		Role:       types.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    "Entering search criteria agent.",
	})
}

func describeUpdate(update criteria.Criteria) string {
	fields := update.Describe()
	if len(fields) == 0 {
		return "I kept your search criteria as they were."
	}
	var b strings.Builder
	b.WriteString("I've updated your search criteria based on your request. Here's what I understood:\n")
	for _, field := range fields {
		label := strings.ReplaceAll(field.Key, "_", " ")
		fmt.Fprintf(&b, "- %s%s: %v\n", strings.ToUpper(label[:1]), label[1:], field.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// delegatedRequest finds the delegation call the current stage is serving
// and the request text it carried. Falls back to the newest user message
// when the arguments cannot be decoded.
func delegatedRequest(st *conversation.State, toolName string) (*types.ToolCall, string) {
	var call *types.ToolCall
	for i := len(st.Messages) - 1; i >= 0; i-- {
		msg := st.Messages[i]
		if msg.Role != types.RoleAssistant {
			continue
		}
		if first, ok := msg.FirstToolCall(); ok && first.Name == toolName {
			call = &first
		}
		break
	}

	if call != nil {
		var args struct {
			Request string `json:"request"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err == nil && args.Request != "" {
			return call, args.Request
		}
	}

	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == types.RoleUser {
			return call, st.Messages[i].Content
		}
	}
	return call, ""
}
