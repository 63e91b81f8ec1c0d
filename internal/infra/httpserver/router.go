package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appruns "github.com/bryanwahyu/trustinn/internal/application/runs"
	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	"github.com/bryanwahyu/trustinn/internal/middleware"
)

// ToolLister is the part of the registry the catalog endpoints need.
type ToolLister interface {
	List() []tools.Descriptor
	Lookup(id tools.ToolID) (tools.Descriptor, error)
}

// Options carries the optional cross-cutting pieces. Zero values disable them.
type Options struct {
	Log         *slog.Logger
	Metrics     *middleware.Metrics
	APIKeys     map[string]string
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Health      map[string]middleware.HealthChecker
	Ready       middleware.HealthChecker
}

type Router struct {
	runs    *appruns.Service
	catalog ToolLister
	log     *slog.Logger
	stream  *streamHandler
}

func NewRouter(runs *appruns.Service, catalog ToolLister, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	r := &Router{runs: runs, catalog: catalog, log: log}
	r.stream = newStreamHandler(runs, log, opts.CORSOrigins)

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: originsOrAll(opts.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Get("/v1/tools", r.wrap(r.handleTools))
	mux.Get("/v1/tools/{id}", r.wrap(r.handleTool))

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		if len(opts.APIKeys) > 0 {
			rt.Use(middleware.APIKeyAuth(opts.APIKeys))
		}
		rt.Use(middleware.RequireValidTenant)

		rt.Group(func(run chi.Router) {
			if opts.RateLimiter != nil {
				run.Use(opts.RateLimiter.Middleware)
			}
			run.Post("/runs", r.wrap(r.handleTriggerRun))
			run.Get("/runs/stream", r.stream.ServeHTTP)
		})
		rt.Get("/runs/latest", r.wrap(r.handleLatest))
		rt.Get("/runs/summary", r.wrap(r.handleSummary))
		rt.Get("/runs/{id}", r.wrap(r.handleGet))
	})

	return mux
}

func originsOrAll(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks errors caused by the caller's input.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br),
			errors.Is(err, tools.ErrInvalidRequest),
			errors.Is(err, tools.ErrMissingParameter):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, sql.ErrNoRows), errors.Is(err, tools.ErrUnknownTool):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, appruns.ErrNoHistory):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, domain.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, appruns.ErrClosed):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			r.log.Error("request failed", "path", req.URL.Path, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// validateCommand checks the fields that end up as script arguments.
func validateCommand(cmd appruns.TriggerRunCommand) error {
	if err := middleware.ValidatePath("file", cmd.File); err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidatePath("input_dir", cmd.InputDir); err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidateBound(cmd.Bound); err != nil {
		return badRequest{err}
	}
	return nil
}

// POST /v1/{tenant}/runs
// Body: {"tool": "CBMC", "file": "foo.c", "bound": "5", "input_dir": ""}
// Runs to completion and answers with the full result.
func (r *Router) handleTriggerRun(w http.ResponseWriter, req *http.Request) error {
	var cmd appruns.TriggerRunCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	if err := validateCommand(cmd); err != nil {
		return err
	}
	cmd.TenantID = chi.URLParam(req, "tenant")

	res, err := r.runs.TriggerRun(req.Context(), cmd, appruns.Discard)
	if err != nil {
		return err
	}
	code := http.StatusOK
	if res.Status == tools.StatusRejected {
		code = http.StatusBadRequest
	}
	return writeJSON(w, code, res)
}

// GET /v1/{tenant}/runs/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.runs.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Run{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{tenant}/runs/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return badRequest{err}
	}

	run, err := r.runs.Get(req.Context(), tenant, domain.RunID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

// GET /v1/{tenant}/runs/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	counts, err := r.runs.Summary(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, counts)
}
