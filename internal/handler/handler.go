// Package handler serves the run ledger and generation over a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/crammer/internal/assemble"
	"github.com/pavelanni/crammer/internal/docstore"
	"github.com/pavelanni/crammer/internal/generate"
	"github.com/pavelanni/crammer/internal/i18n"
	"github.com/pavelanni/crammer/internal/metrics"
	"github.com/pavelanni/crammer/internal/model"
	"github.com/pavelanni/crammer/internal/roster"
	"github.com/pavelanni/crammer/internal/store"
	"github.com/pavelanni/crammer/internal/validate"
)

// Config carries the generation defaults applied to API-started runs. Lang
// is used when a request names no language.
type Config struct {
	Workers int
	Lang    string
	Lenient bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	sources   *generate.Sources
	generator *generate.Generator
	metrics   *metrics.Metrics
	config    Config
	auth      *basicAuth
}

// New creates a new Handler. An empty password leaves the write endpoints
// open.
func New(s *store.Store, src *generate.Sources, g *generate.Generator, m *metrics.Metrics, cfg Config, password string) (*Handler, error) {
	auth, err := newBasicAuth(adminUser, password)
	if err != nil {
		return nil, err
	}
	return &Handler{store: s, sources: src, generator: g, metrics: m, config: cfg, auth: auth}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(i18n.Middleware(h.config.Lang))
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{runID}", h.handleGetRun)
		r.Get("/runs/{runID}/exams/{examID}/pdf", h.handleExamPDF)
		r.Get("/templates", h.handleListTemplates)
		r.Get("/topics", h.handleListTopics)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.middleware)
			r.Post("/runs", h.handleStartRun)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps domain errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, generate.ErrUnknownRoster):
		return http.StatusNotFound
	case errors.Is(err, validate.ErrInvalid),
		errors.Is(err, generate.ErrNoRoster),
		errors.Is(err, roster.ErrEmpty),
		errors.Is(err, roster.ErrHeader):
		return http.StatusBadRequest
	case errors.Is(err, assemble.ErrInsufficientQuestions), errors.Is(err, assemble.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.GetRunView(chi.URLParam(r, "runID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleExamPDF(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(chi.URLParam(r, "runID"), chi.URLParam(r, "examID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exam.PDFPath == "" {
		writeError(w, http.StatusNotFound, "exam has no PDF")
		return
	}
	f, err := os.Open(exam.PDFPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "PDF file is missing")
			return
		}
		h.fail(w, r, err)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := h.sources.Templates.Names()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.sources.Questions.Topics()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, topics)
}

type startRunRequest struct {
	Template  string `json:"template"`
	Roster    string `json:"roster,omitempty"`
	Seed      string `json:"seed,omitempty"`
	NoCompile bool   `json:"no_compile"`
}

type startRunResponse struct {
	*model.RunView
	Success bool `json:"success"`
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}

	opts, err := h.sources.StoredOptions(req.Template, req.Roster)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts.Seed = req.Seed
	opts.NoCompile = req.NoCompile
	opts.Workers = h.config.Workers
	opts.Lang = h.config.Lang
	if lang := i18n.LangFromContext(r.Context()); lang != "" {
		opts.Lang = lang
	}
	opts.Lenient = h.config.Lenient

	res, err := h.generator.Run(r.Context(), opts, func(p model.Progress) {
		slog.Debug("run progress", "stage", p.Stage, "student", p.StudentName, "message", p.Message)
	})
	if err != nil && res == nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.store.GetRunView(res.Run.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startRunResponse{RunView: view, Success: res.Success})
}
