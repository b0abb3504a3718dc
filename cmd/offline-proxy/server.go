package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Sternrassler/webpro-offline/pkg/metrics"
	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/Sternrassler/webpro-offline/pkg/outbox"
	"github.com/Sternrassler/webpro-offline/pkg/worker"
)

// maxBodyBytes bounds control, push and outbox request bodies.
const maxBodyBytes = 1 << 20

// cacheHeader reports how the manager answered a proxied request.
const cacheHeader = "X-Offline-Cache"

// server exposes a Registration over HTTP. Pages reach the origin through
// the catch-all route, the /_sw routes deliver the events a browser would.
type server struct {
	reg    *worker.Registration
	origin *url.URL
	center *notify.Center
	outbox outbox.Store
	now    func() time.Time
}

func (s *server) routes(logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/_sw", func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Post("/sync/{tag}", s.handleSync)
		r.Post("/push", s.handlePush)
		r.Post("/notificationclick", s.handleNotificationClick)
		r.Put("/outbox/{tag}", s.handleOutbox)
		r.Get("/notifications", s.handleNotifications)
	})

	r.NotFound(s.handleFetch)
	r.MethodNotAllowed(s.handleFetch)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.reg.Controller() == nil {
		http.Error(w, "no active manager", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "READY")
}

// handleFetch proxies a page request through the controlling manager.
func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	target := s.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	out.Header.Del("Connection")
	out.ContentLength = r.ContentLength

	resp, err := s.reg.Fetch(r.Context(), out)
	if err != nil {
		logger.Warn().Err(err).Stringer("url", target).Msg("Fetch failed")
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(cacheHeader, string(resp.Source))
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response body")
	}
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.finish(w, r, s.reg.Message(r.Context(), body).Wait(r.Context()))
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	err := s.reg.Sync(r.Context(), tag).Wait(r.Context())
	if err != nil && !errors.Is(err, worker.ErrNoController) {
		hlog.FromRequest(r).Warn().Err(err).Str("tag", tag).Msg("Sync failed, submission retained")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err != nil {
		s.finish(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.finish(w, r, s.reg.Push(r.Context(), body).Wait(r.Context()))
}

type clickRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

func (s *server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid click body", http.StatusBadRequest)
		return
	}
	n, ok := s.center.Get(req.ID)
	if !ok {
		http.Error(w, "unknown notification", http.StatusNotFound)
		return
	}
	s.finish(w, r, s.reg.NotificationClick(r.Context(), req.Action, n).Wait(r.Context()))
}

// handleOutbox stores a pending submission for tag, replacing any earlier one.
// The body must be JSON. An optional url query parameter overrides the
// submission endpoint.
func (s *server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		http.Error(w, "submission body must be JSON", http.StatusBadRequest)
		return
	}

	sub := &outbox.Submission{
		Tag:         chi.URLParam(r, "tag"),
		URL:         r.URL.Query().Get("url"),
		Method:      http.MethodPost,
		ContentType: "application/json",
		Body:        json.RawMessage(body),
		QueuedAt:    s.now(),
	}
	if err := s.outbox.Save(r.Context(), sub); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("tag", sub.Tag).Msg("Failed to save submission")
		http.Error(w, "failed to save submission", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.center.Shown()); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Failed to write notifications")
	}
}

// finish maps an event task result onto a status code.
func (s *server) finish(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, worker.ErrNoController), errors.Is(err, worker.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		hlog.FromRequest(r).Warn().Err(err).Msg("Event failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}
