package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/storefleet/internal/orchestrator"
	"github.com/seantiz/storefleet/internal/registry"
)

const maxBodySize = 1 << 20 // 1 MB

// createStoreRequest is the JSON body for POST /create-store.
type createStoreRequest struct {
	Engine string `json:"engine"`
}

// deleteStoreResponse is the JSON response for DELETE /store/{name}.
type deleteStoreResponse struct {
	Message  string                         `json:"message"`
	Failures []orchestrator.TeardownFailure `json:"failures,omitempty"`
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	st, err := s.orch.Create(r.Context(), req.Engine)
	var verr *orchestrator.ValidationError
	if errors.As(err, &verr) {
		s.writeMessage(w, http.StatusBadRequest, verr.Error())
		return
	}
	if err != nil {
		s.logger.Error("create store", "engine", req.Engine, "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "failed to create store")
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.orch.List(r.Context())
	if err != nil {
		s.logger.Error("list stores", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list stores")
		return
	}

	s.writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	st, err := s.orch.Get(r.Context(), name)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Store not found")
		return
	}
	if err != nil {
		s.logger.Error("get store", "store", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Teardown waits on the cluster and can outlive the write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for delete", "error", err)
	}

	report, err := s.orch.Delete(r.Context(), name)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Store not found")
		return
	}
	if err != nil {
		s.logger.Error("delete store", "store", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete store")
		return
	}

	s.writeJSON(w, http.StatusOK, deleteStoreResponse{
		Message:  "Deleted",
		Failures: report.Failures,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON {"error": ...} response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeMessage writes a JSON {"message": ...} response, the shape clients of
// the create endpoint expect for rejections.
func (s *Server) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}
