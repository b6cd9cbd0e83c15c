package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/tunneld/internal/eventbus"
	"github.com/creamcroissant/tunneld/internal/logring"
	"github.com/creamcroissant/tunneld/internal/monitor"
	"github.com/creamcroissant/tunneld/internal/profile"
	"github.com/creamcroissant/tunneld/internal/repository"
	"github.com/creamcroissant/tunneld/internal/supervisor"
)

// Handler serves the control API shared by the unix socket and the
// optional TCP listener.
type Handler struct {
	svc      *supervisor.Supervisor
	profiles *profile.Manager
	logs     *logring.Ring
	monitor  *monitor.Monitor
	bus      *eventbus.Bus
	gatherer prometheus.Gatherer
	auth     *Authenticator
	logger   *slog.Logger
}

type HandlerOptions struct {
	Service  *supervisor.Supervisor
	Profiles *profile.Manager
	Logs     *logring.Ring
	Monitor  *monitor.Monitor
	Bus      *eventbus.Bus
	Gatherer prometheus.Gatherer
	Auth     *Authenticator
	Logger   *slog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      opts.Service,
		profiles: opts.Profiles,
		logs:     opts.Logs,
		monitor:  opts.Monitor,
		bus:      opts.Bus,
		gatherer: opts.Gatherer,
		auth:     opts.Auth,
		logger:   logger.With("component", "command"),
	}
}

// Routes builds the API router. When authenticated is true the /api
// subtree is wrapped with bearer auth; the unix socket passes false.
func (h *Handler) Routes(authenticated bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if authenticated && h.auth != nil {
			r.Use(h.auth.Middleware)
		}
		r.Get("/status", h.status)
		r.Get("/status/stream", h.statusStream)
		r.Get("/logs", h.logsHandler)
		r.Post("/service/reload", h.reloadService)
		r.Post("/service/close", h.closeService)
		r.Get("/profiles", h.listProfiles)
		r.Post("/profile/select", h.selectProfile)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse bundles the lifecycle summary with host statistics.
type StatusResponse struct {
	supervisor.Info
	System *monitor.Snapshot `json:"system,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Info: h.svc.Status()}
	if h.monitor != nil {
		snapshot := h.monitor.Collect()
		resp.System = &snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusStream writes the current state followed by every transition
// as newline-delimited JSON until the client disconnects.
func (h *Handler) statusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	current, changes, cancel := h.svc.Subscribe(8)
	defer cancel()

	enc := json.NewEncoder(w)
	writeState := func(state supervisor.State) bool {
		event := map[string]string{"state": state.String()}
		if err := enc.Encode(event); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !writeState(current) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-changes:
			if !ok || !writeState(state) {
				return
			}
		}
	}
}

// logsHandler replays buffered log lines, then tails new ones when
// follow=1.
func (h *Handler) logsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	follow := r.URL.Query().Get("follow") == "1" || r.URL.Query().Get("follow") == "true"

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	snapshot, tail, cancel := h.logs.Subscribe(64)
	defer cancel()

	enc := json.NewEncoder(w)
	for _, entry := range snapshot {
		if err := enc.Encode(entry); err != nil {
			return
		}
	}
	flusher.Flush()
	if !follow {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-tail:
			if !ok {
				return
			}
			if err := enc.Encode(entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) reloadService(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reload().Wait(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrInvalidState) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) closeService(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("stop requested via control api")
	// The stop tears down this very server, so don't wait for it.
	h.bus.Publish(eventbus.SignalStopRequested)
	h.svc.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profiles == nil {
		profiles = []repository.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

type selectRequest struct {
	ID int64 `json:"id"`
}

// selectProfile switches the active profile and triggers a reload via
// the event bus.
func (h *Handler) selectProfile(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if err := h.profiles.Select(r.Context(), req.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	h.bus.Publish(eventbus.SignalProfileChanged)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "selected",
		"profile": strconv.FormatInt(req.ID, 10),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
