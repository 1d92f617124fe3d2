package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/basket/chainwatch/internal/bus"
	"github.com/basket/chainwatch/internal/engine"
	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/tools"
	"github.com/basket/chainwatch/internal/trace"
)

const maxInvokeBodyBytes = 1 << 20

// TraceReader serves trace lookups for the read API.
type TraceReader interface {
	GetTrace(ctx context.Context, traceID string) (*trace.Trace, error)
}

// Config wires the server's collaborators.
type Config struct {
	Loop   *engine.Loop
	Tracer TraceReader
	Store  *persistence.Store
	Bus    *bus.Bus
	Logger *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /traces", s.handleListTraces)
	mux.HandleFunc("GET /actions", s.handleListActions)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// handleInvoke runs one request through the reasoning loop. The HTTP layer
// always answers 200; the domain status code lives inside the envelope.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInvokeBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	req, params, err := ParseInvoke(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conversationID := req.SessionID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	resp, err := s.cfg.Loop.Run(r.Context(), engine.Request{
		ConversationID: conversationID,
		Tool:           req.ToolName(),
		Params:         params,
	})
	if err != nil {
		s.writeEnvelope(w, BuildResponse(req, invokeStatus(err), map[string]any{
			"error": err.Error(),
		}))
		return
	}

	s.writeEnvelope(w, BuildResponse(req, http.StatusOK, map[string]any{
		"trace_id":        resp.TraceID,
		"conversation_id": conversationID,
		"summary":         resp.Summary,
		"results":         resp.Results,
	}))
}

// invokeStatus maps loop failures onto domain status codes.
func invokeStatus(err error) int {
	var invalid *tools.InvalidParamsError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("write envelope failed", "error", err)
	}
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	t, err := s.cfg.Tracer.GetTrace(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get trace failed", "trace_id", traceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	payload := map[string]any{"trace": t}
	if s.cfg.Store != nil {
		calls, err := s.cfg.Store.ListToolCalls(r.Context(), traceID)
		if err == nil {
			payload["tool_calls"] = calls
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"traces": []any{}})
		return
	}
	var traces []persistence.TraceRecord
	var err error
	if conversation := r.URL.Query().Get("conversation"); conversation != "" {
		traces, err = s.cfg.Store.ListTracesByConversation(r.Context(), conversation, queryLimit(r))
	} else {
		traces, err = s.cfg.Store.ListTraces(r.Context(), queryLimit(r))
	}
	if err != nil {
		s.logger.Error("list traces failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"actions": []any{}})
		return
	}
	actions, err := s.cfg.Store.ListActions(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("list actions failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.cfg.Store != nil {
		if _, err := s.cfg.Store.ListTraces(r.Context(), 1); err != nil {
			dbOK = false
		}
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
	})
}

// handleWS streams bus events to the client. An optional topics query
// parameter narrows the subscription to one topic prefix.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	prefix := strings.TrimSpace(r.URL.Query().Get("topics"))
	sub := s.cfg.Bus.Subscribe(prefix)
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, map[string]any{
				"topic":   ev.Topic,
				"payload": ev.Payload,
			}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return 0
		}
		limit = limit*10 + int(ch-'0')
	}
	return limit
}
