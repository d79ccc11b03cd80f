// Package observe carries structured runtime events out of the dialogue
// engine. The engine emits; sinks decide what to do with the stream.
package observe

import "time"

type Kind string

type Status string

const (
	KindTurn       Kind = "turn"
	KindNode       Kind = "node"
	KindCheckpoint Kind = "checkpoint"
	KindTool       Kind = "tool"
	KindProvider   Kind = "provider"
	KindCustom     Kind = "custom"
)

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Event struct {
	ID         string         `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	ThreadID   string         `json:"threadId,omitempty"`
	TurnID     string         `json:"turnId,omitempty"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status,omitempty"`
	Name       string         `json:"name,omitempty"`
	NodeID     string         `json:"nodeId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}
