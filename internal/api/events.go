package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/storefleet/internal/model"
	"github.com/seantiz/storefleet/internal/registry"
)

// eventHistoryResponse is the JSON response for GET /store/{name}/events/history.
type eventHistoryResponse struct {
	Store  string        `json:"store"`
	Events []model.Event `json:"events"`
}

// handleStreamEvents streams a store's provisioning events as SSE. Persisted
// history is replayed first, then live events follow until the workflow
// finishes. A store that already finished gets its history and a done event.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	st, err := s.orch.Get(r.Context(), name)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Store not found")
		return
	}
	if err != nil {
		s.logger.Error("get store for events", "store", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}

	// Subscribe before reading history so nothing published in between is
	// lost; duplicates are skipped by sequence number below. Subscribe on a
	// finished or forgotten store returns a closed channel.
	var ch <-chan model.Event
	if !model.IsTerminal(st.Status) {
		var unsub func()
		ch, unsub = s.orch.Subscribe(name)
		defer unsub()
	}

	// Events checks the store again, so a store deleted since the lookup
	// above is reported here instead of streaming from a dropped topic.
	history, err := s.orch.Events(r.Context(), name)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Store not found")
		return
	}
	if err != nil {
		s.logger.Error("get events for stream", "store", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	eventStreamsActive.Inc()
	defer eventStreamsActive.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	next := 0
	for _, e := range history {
		if err := writeSSEData(w, e); err != nil {
			return
		}
		next = e.Seq + 1
	}
	flush()

	if ch == nil {
		_ = writeSSEEvent(w, "done", st.Status)
		flush()
		return
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if e.Seq < next {
				continue
			}
			if err := writeSSEData(w, e); err != nil {
				return // Write failed (e.g. client gone).
			}
			next = e.Seq + 1
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	events, err := s.orch.Events(r.Context(), name)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Store not found")
		return
	}
	if err != nil {
		s.logger.Error("get event history", "store", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{Store: name, Events: events})
}

// writeSSEData writes e as a single-line JSON SSE data event.
func writeSSEData(w http.ResponseWriter, e model.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.Seq, b)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
