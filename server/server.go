// Package server exposes the dialogue engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/graph"
)

const defaultAddr = "127.0.0.1:8080"

type Server struct {
	exec        *graph.Executor
	checkpoints *conversation.Checkpointer
	mux         *http.ServeMux
	http        *http.Server
	once        sync.Once
}

func NewServer(exec *graph.Executor, checkpoints *conversation.Checkpointer, addr string) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if strings.TrimSpace(addr) == "" {
		addr = defaultAddr
	}

	s := &Server{
		exec:        exec,
		checkpoints: checkpoints,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/v1/threads/{id}/resume", s.handleResume)
	s.mux.HandleFunc("GET /api/v1/threads/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("GET /api/v1/threads/{id}/checkpoints", s.handleCheckpoints)
	s.mux.HandleFunc("DELETE /api/v1/threads/{id}", s.handleDeleteThread)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /api/v1/healthz", s.handleHealthz)
}

// Handler returns the HTTP handler with tracing instrumentation applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "assistant.http")
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	var outErr error
	s.once.Do(func() {
		outErr = s.http.Close()
	})
	return outErr
}
