package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/cadre-oss/memchat/internal/agent"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// --- Helpers ---

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

// writeError reports err with the status errorStatus picks and, for coded
// errors, the code.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if code := memErrors.AsCode(err); code != "" {
		body["code"] = code
	}
	jsonResponse(w, errorStatus(err), body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps a turn error onto an HTTP status: caller mistakes are
// 400, unknown threads 404, abandoned requests 503 and the rest 500.
func errorStatus(err error) int {
	switch memErrors.AsCode(err) {
	case memErrors.CodeUsage, memErrors.CodeInvalidMessage:
		return http.StatusBadRequest
	case memErrors.CodeNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"name":   s.cfg.Name,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, s.metrics.GetSummary())
}

// --- Chat ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// --- Threads ---

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	threads, err := s.chat.Threads(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, threads)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cp, err := s.chat.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, cp)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.chat.DeleteThread(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- SSE ---

func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, "")
}

func (s *Server) handleSSEEventsFiltered(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	s.serveSSE(w, r, threadID)
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, threadID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	client := s.broker.Subscribe(r.Context(), clientID, threadID)

	// Send initial connected event.
	data, _ := json.Marshal(map[string]string{"type": "connected", "client_id": clientID})
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	for ev := range client.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
