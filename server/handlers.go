package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/types"
)

const unavailableReply = "I'm sorry, something went wrong on my side. Please try again in a moment."

type chatRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

type chatResponse struct {
	ThreadID     string           `json:"thread_id"`
	TurnID       string           `json:"turn_id"`
	Reply        string           `json:"reply"`
	Paused       bool             `json:"paused"`
	PendingCalls []types.ToolCall `json:"pending_calls,omitempty"`
	Seq          int              `json:"seq"`
}

type resumeRequest struct {
	Approved bool `json:"approved"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	result, err := s.exec.Turn(r.Context(), threadID, req.Message)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(result))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.exec.Resume(r.Context(), threadID, req.Approved)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(result))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	cp, err := s.checkpoints.Latest(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("thread not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  cp.State.Messages,
		"criteria":  cp.State.Criteria,
	})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	cps, err := s.checkpoints.History(r.Context(), threadID, limit)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("thread not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":   threadID,
		"checkpoints": cps,
	})
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	if err := s.checkpoints.Purge(r.Context(), threadID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "deleted": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.checkpoints.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func toChatResponse(result graph.TurnResult) chatResponse {
	return chatResponse{
		ThreadID:     result.ThreadID,
		TurnID:       result.TurnID,
		Reply:        result.Reply,
		Paused:       result.Paused,
		PendingCalls: result.PendingCalls,
		Seq:          result.Seq,
	}
}

// writeTurnError maps engine failures onto HTTP statuses. Internal faults
// hide the cause behind a generic apology; the last good checkpoint is
// untouched, so the client can simply retry.
func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrConflict):
		writeError(w, http.StatusConflict, errors.New("another turn is in flight for this thread"))
	case errors.Is(err, graph.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, errors.New("thread not found"))
	case errors.Is(err, graph.ErrNoPendingApproval):
		writeError(w, http.StatusConflict, errors.New("no action is awaiting approval"))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": unavailableReply})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": unavailableReply})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]any{"error": msg})
}
