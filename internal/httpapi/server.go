// Package httpapi exposes the service's JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/b0gdan00/Aspirantura-research/internal/app/control"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ingest"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

type Server struct {
	experiments ports.ExperimentStore
	frames      ports.FrameStore
	ctl         *control.Controller
	ingestor    *ingest.Ingestor
	metrics     http.Handler
}

// NewServer wires the API. metrics may be nil when no metrics endpoint is
// wanted (tests).
func NewServer(experiments ports.ExperimentStore, frames ports.FrameStore,
	ctl *control.Controller, ingestor *ingest.Ingestor, metrics http.Handler) *Server {

	return &Server{
		experiments: experiments,
		frames:      frames,
		ctl:         ctl,
		ingestor:    ingestor,
		metrics:     metrics,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/experiments", s.handleList)
	mux.HandleFunc("POST /api/experiments", s.handleCreate)
	mux.HandleFunc("GET /api/experiments/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/experiments/{id}/frames", s.handleFrames)
	mux.HandleFunc("POST /api/experiments/{id}/frames/batch", s.handleFrameBatch)
	mux.HandleFunc("POST /api/experiments/{id}/command", s.handleCommand)
	mux.HandleFunc("POST /api/experiments/{id}/test-connection", s.handleTestConnection)
	mux.HandleFunc("POST /api/experiments/{id}/action", s.handleAction)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "error": msg})
}

func (s *Server) experimentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Experiment not found.")
		return 0, false
	}
	return id, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	exps, err := s.experiments.ListExperiments(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exps == nil {
		exps = []*domain.Experiment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "experiments": exps})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		SerialPort  string `json:"serial_port"`
		BaudRate    int    `json:"baud_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	exp := &domain.Experiment{
		Title:       req.Title,
		Description: req.Description,
		SerialPort:  req.SerialPort,
		BaudRate:    req.BaudRate,
	}
	if err := s.experiments.CreateExperiment(r.Context(), exp); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "experiment": exp})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}
	exp, err := s.experiments.GetExperiment(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	count, err := s.frames.CountFrames(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var last any
	if f, err := s.frames.LastFrame(r.Context(), id); err == nil {
		last = f
	} else if !errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"experiment": exp,
		"frames": map[string]any{
			"count": count,
			"last":  last,
		},
	})
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}
	if _, err := s.experiments.GetExperiment(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}

	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 2000 {
		limit = 2000
	}

	frames, err := s.frames.RecentFrames(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if frames == nil {
		frames = []*domain.Frame{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "frames": frames})
}

func (s *Server) handleFrameBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}
	if _, err := s.experiments.GetExperiment(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	created, err := s.ingestor.Ingest(r.Context(), id, payload)
	if err != nil {
		var vErr *ingest.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "created": created})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	var (
		out *control.Outcome
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case "start":
		out, err = s.ctl.Start(r.Context(), id)
	case "ignite":
		out, err = s.ctl.Ignite(r.Context(), id)
	case "stop":
		out, err = s.ctl.Stop(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "Unknown command.")
		return
	}
	if err != nil {
		s.commandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"confirmed": true,
		"command":   strings.ToLower(strings.TrimSpace(req.Command)),
		"experiment": map[string]any{
			"id":     out.Experiment.ID,
			"status": out.Experiment.Status,
		},
		"response_lines": out.Lines,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}

	out, err := s.ctl.TestConnection(r.Context(), id)
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"confirmed":      true,
		"response_lines": out.Lines,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.experimentID(w, r)
	if !ok {
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	var (
		out *control.Outcome
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "finish":
		out, err = s.ctl.Finish(r.Context(), id)
	case "abort":
		out, err = s.ctl.Abort(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "Unknown action.")
		return
	}
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "experiment": out.Experiment})
}

// commandError maps controller failures onto the API contract. Unconfirmed
// device exchanges come back as a gateway-style failure carrying the raw
// response lines.
func (s *Server) commandError(w http.ResponseWriter, err error) {
	var devErr *control.DeviceError
	switch {
	case errors.As(err, &devErr):
		detail := devErr.Result.Detail
		if detail == "" {
			detail = "Command failed."
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":         "error",
			"confirmed":      false,
			"error":          detail,
			"response_lines": devErr.Result.Lines,
		})
	case errors.Is(err, control.ErrNoSerialPort):
		writeError(w, http.StatusBadRequest, "Experiment serial_port is not configured.")
	case errors.Is(err, control.ErrTerminalState):
		writeError(w, http.StatusConflict, "Experiment is in a terminal state.")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "Experiment not found.")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Experiment not found.")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
