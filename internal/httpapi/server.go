// Package httpapi exposes the pipeline over HTTP: artifact upload and
// download, job submission, status polling and cancellation.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CoderFake/document-processing-system/internal/artifact"
	"github.com/CoderFake/document-processing-system/internal/coordinator"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/ledger"
)

// maxUploadBytes bounds a single artifact upload.
const maxUploadBytes = 256 << 20

type Server struct {
	coord  *coordinator.Coordinator
	store  artifact.Store
	logger *slog.Logger
}

func NewServer(coord *coordinator.Coordinator, store artifact.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{coord: coord, store: store, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.health)

	r.Route("/artifacts", func(r chi.Router) {
		r.Post("/", s.uploadArtifact)
		r.Get("/{id}", s.downloadArtifact)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.submitJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Post("/{id}/cancel", s.cancelJob)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty artifact body")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "artifact exceeds upload limit")
		return
	}

	ref, err := s.store.Put(r.Context(), data)
	if err != nil {
		s.logger.Error("artifact upload failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "artifact store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("artifact download failed", "storage_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "artifact store unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

type submitJobRequest struct {
	Operation  string            `json:"operation"`
	Inputs     []job.ArtifactRef `json:"inputs"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}

	j, err := s.coord.Submit(r.Context(), coordinator.SubmitRequest{
		Operation:  req.Operation,
		CallerID:   r.Header.Get("X-Caller-ID"),
		Inputs:     req.Inputs,
		Parameters: req.Parameters,
	})
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.coord.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := s.coord.List(r.Context(), r.Header.Get("X-Caller-ID"), limit)
	if err != nil {
		s.logger.Error("job list failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := s.coord.Cancel(r.Context(), id); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(job.StatusCancelled)})
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ledger.ErrTerminal):
		writeError(w, http.StatusConflict, "job already reached a terminal state")
	default:
		s.logger.Error("job cancel failed", "job_id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
	}
}

// writeJobError maps structured admission failures onto HTTP statuses.
func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	var jerr *job.Error
	if errors.As(err, &jerr) {
		status := http.StatusBadRequest
		switch jerr.Kind {
		case job.KindUnknownOperation:
			status = http.StatusNotFound
		case job.KindStoreUnavailable, job.KindTransportUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": jerr.Detail, "kind": string(jerr.Kind)})
		return
	}
	s.logger.Error("job submission failed", "err", err)
	writeError(w, http.StatusInternalServerError, "submission failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
