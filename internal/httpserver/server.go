// Package httpserver exposes the chat service over HTTP: a non-streaming
// completion endpoint, two SSE streaming projections, the cancellation
// endpoint, and the base introspection routes.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/cancel"
	"github.com/gingerGarden/bedrock-be-ai/internal/health"
	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
	"github.com/gingerGarden/bedrock-be-ai/internal/stream"
	"github.com/gingerGarden/bedrock-be-ai/internal/version"
)

// Server wires the backend, cancellation registry, stream pipeline and
// usage ledger behind the HTTP routes.
type Server struct {
	backend      backend.Backend
	cancels      *cancel.Registry
	pipeline     *stream.Pipeline
	ledger       ledger.Store // optional
	checker      *health.Checker
	defaultModel string
	aliases      map[string]string

	logger   *log.Logger
	logLevel string
}

// Options configures a Server.
type Options struct {
	Backend      backend.Backend
	Ledger       ledger.Store // nil disables usage recording
	DefaultModel string
	ModelAliases map[string]string
}

// New creates a Server with its own cancellation registry. One Server is one
// process-local registry scope; every stream and every cancel request served
// by this instance shares it.
func New(opts Options) *Server {
	s := &Server{
		backend:      opts.Backend,
		cancels:      cancel.NewRegistry(),
		ledger:       opts.Ledger,
		defaultModel: opts.DefaultModel,
		aliases:      opts.ModelAliases,
	}
	s.pipeline = stream.New(s.cancels, nil)
	s.checker = health.New(health.Config{Backend: opts.Backend, Ledger: opts.Ledger})
	return s
}

// SetLogger attaches a logger and level ("debug" enables per-stream logs).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	s.logger = logger
	if s.isDebug() {
		s.pipeline = stream.New(s.cancels, logger)
	}
}

// Cancels exposes the registry; used by tests to assert the cleanup
// invariant.
func (s *Server) Cancels() *cancel.Registry {
	return s.cancels
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/chat", func(cr chi.Router) {
		cr.Post("/api", s.handleChatAPI)
		cr.Post("/stream", s.handleChatStream)
		cr.Post("/stream_with_meta", s.handleChatStreamWithMeta)
		cr.Post("/cancel", s.handleChatCancel)
	})

	r.Route("/base", func(br chi.Router) {
		br.Get("/ping", s.handlePing)
		br.Get("/model_list", s.handleModelList)
		br.Get("/default_model", s.handleDefaultModel)
	})

	r.Route("/usage", func(ur chi.Router) {
		ur.Get("/recent", s.handleRecentUsage)
		ur.Get("/summary", s.handleUsageSummary)
	})

	r.Get("/health", s.handleHealth)
	return r
}

// resolveModel applies the default fallback and alias rewrites to the
// client-supplied model name. The note describes how the name was resolved;
// it ends up in the terminal chunk's metadata.model.log.
func (s *Server) resolveModel(name string) (model, note string, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if s.defaultModel == "" {
			return "", "", errors.New("no model_name provided and no default model configured")
		}
		return s.defaultModel, "selection=default", nil
	}
	if target, ok := s.aliases[name]; ok {
		return target, "selection=alias:" + name, nil
	}
	return name, "selection=explicit", nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]any{
		"status":     report.Status,
		"backend":    s.backend.Name(),
		"version":    version.Info(),
		"components": report.Components,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":      "good",
		"bot_backend": s.backend.Name(),
	})
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.Models(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models)
}

func (s *Server) handleDefaultModel(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.defaultModel)
}

// handleRecentUsage returns the latest ledger entries, newest first.
func (s *Server) handleRecentUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("usage ledger disabled"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleUsageSummary returns aggregate usage, scoped to ?model= when given.
func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("usage ledger disabled"))
		return
	}
	summary, err := s.ledger.Summary(r.Context(), r.URL.Query().Get("model"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool {
	return s.logLevel == "debug"
}

func (s *Server) debugf(format string, args ...any) {
	if s.isDebug() && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
