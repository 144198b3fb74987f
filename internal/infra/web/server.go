package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/usecase"
)

// Server exposes the thin ingress surface consumed by the admin/REST layer:
// enqueue, job lookup, queue stats. Everything else about delivery is
// asynchronous.
type Server struct {
	queue usecase.QueueUseCase
	stats usecase.StatsUseCase
	log   *zerolog.Logger
}

func NewServer(queue usecase.QueueUseCase, stats usecase.StatsUseCase, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTP").Logger()
	return &Server{queue: queue, stats: stats, log: &l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/deliveries", s.handleEnqueue)
	r.Get("/api/v1/deliveries/{id}", s.handleGetJob)
	r.Delete("/api/v1/deliveries/{id}", s.handleCancel)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type enqueueRequest struct {
	AccountID   int64  `json:"account_id"`
	LeadID      int64  `json:"lead_id"`
	MessageText string `json:"message_text"`
	NoteText    string `json:"note_text,omitempty"`
	TaskText    string `json:"task_text,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

type enqueueResponse struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, pos, err := s.queue.Enqueue(ctx, usecase.EnqueueParams{
		AccountID:   req.AccountID,
		LeadID:      req.LeadID,
		MessageText: req.MessageText,
		NoteText:    req.NoteText,
		TaskText:    req.TaskText,
		Priority:    model.Priority(req.Priority),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID, Position: pos})
}

type jobResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	AttemptsMade int    `json:"attempts_made"`
	MaxAttempts  int    `json:"max_attempts"`
	Position     int    `json:"position,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	job, err := s.queue.GetJob(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := jobResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Priority:     string(job.Priority),
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.MaxAttempts,
		LastError:    job.LastError,
	}
	if job.Status == model.JobStatusQueued {
		if pos, err := s.queue.Position(ctx, id); err == nil {
			resp.Position = pos
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.queue.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := s.stats.Queue(ctx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
