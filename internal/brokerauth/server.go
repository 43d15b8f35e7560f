// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package brokerauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/metrics"
)

// Config holds the broker-auth HTTP settings.
type Config struct {
	ListenAddr string `koanf:"listen_addr" validate:"required"`
	// RateLimit bounds requests per client IP per RateWindow.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns the broker-auth defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8990",
		RateLimit:       300,
		RateWindow:      time.Minute,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

const (
	decisionAllow = "allow"
	decisionDeny  = "deny"
)

// knownParams lists the recognized form parameters per endpoint. Extra
// parameters are logged and tolerated: broker versions differ in what they
// send.
var knownParams = map[string][]string{
	"user":     {"username", "password", "client_id"},
	"vhost":    {"username", "vhost", "ip"},
	"resource": {"username", "vhost", "resource", "name", "permission"},
	"topic":    {"username", "vhost", "resource", "name", "permission", "routing_key"},
}

var (
	validResources   = map[string]struct{}{"exchange": {}, "queue": {}, "topic": {}}
	validPermissions = map[string]struct{}{"configure": {}, "write": {}, "read": {}}
)

// Server is the auth-backend HTTP service. Implements suture.Service.
type Server struct {
	cfg      Config
	managers ManagerFactory
	logger   zerolog.Logger
	router   chi.Router
}

// NewServer wires the four endpoints.
func NewServer(cfg Config, managers ManagerFactory, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		managers: managers,
		logger:   logger.With().Str("component", "brokerauth").Logger(),
	}

	r := chi.NewRouter()
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateWindow))
	}
	r.Post("/user", s.endpoint("user", s.decideUser))
	r.Post("/vhost", s.endpoint("vhost", s.decideVhost))
	r.Post("/resource", s.endpoint("resource", s.decideResource))
	r.Post("/topic", s.endpoint("topic", s.decideTopic))
	s.router = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve runs the HTTP listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Broker-auth service listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for suture service naming.
func (s *Server) String() string { return "brokerauth" }

// decider makes one endpoint's decision given the parsed form values.
type decider func(ctx context.Context, m Manager, form map[string]string) (bool, error)

// endpoint wraps a decider with the protocol envelope: form parsing,
// unknown-parameter warnings, and deny-on-exception. The reply is always
// HTTP 200 text/plain, "allow" or "deny".
func (s *Server) endpoint(name string, decide decider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Str("endpoint", name).Any("panic", rec).Msg("Panic in auth decision, denying")
				s.respond(w, name, false)
			}
		}()

		if err := r.ParseForm(); err != nil {
			s.logger.Error().Err(err).Str("endpoint", name).Msg("Malformed form, denying")
			s.respond(w, name, false)
			return
		}
		form := s.collectParams(name, r)

		for _, param := range requiredParams(name) {
			if form[param] == "" {
				s.logger.Error().Str("endpoint", name).Str("param", param).Msg("Missing required parameter, denying")
				s.respond(w, name, false)
				return
			}
		}
		if name == "resource" || name == "topic" {
			if _, ok := validResources[form["resource"]]; !ok {
				s.logger.Error().Str("endpoint", name).Str("resource", form["resource"]).Msg("Invalid resource, denying")
				s.respond(w, name, false)
				return
			}
			if _, ok := validPermissions[form["permission"]]; !ok {
				s.logger.Error().Str("endpoint", name).Str("permission", form["permission"]).Msg("Invalid permission, denying")
				s.respond(w, name, false)
				return
			}
		}

		m, err := s.managers.Acquire(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Str("endpoint", name).Msg("Cannot acquire auth manager, denying")
			s.respond(w, name, false)
			return
		}
		defer m.Release()

		allowed, err := decide(r.Context(), m, form)
		if err != nil {
			s.logger.Error().Err(err).Str("endpoint", name).Msg("Auth decision failed, denying")
			s.respond(w, name, false)
			return
		}
		s.respond(w, name, allowed)
	}
}

// collectParams flattens the form, warning about unrecognized keys.
func (s *Server) collectParams(endpoint string, r *http.Request) map[string]string {
	known := make(map[string]struct{}, len(knownParams[endpoint]))
	for _, p := range knownParams[endpoint] {
		known[p] = struct{}{}
	}
	form := make(map[string]string, len(r.Form))
	for key, values := range r.Form {
		if _, ok := known[key]; !ok {
			s.logger.Warn().Str("endpoint", endpoint).Str("param", key).Msg("Unknown parameter")
		}
		if len(values) > 0 {
			form[key] = values[0]
		}
	}
	return form
}

func requiredParams(endpoint string) []string {
	switch endpoint {
	case "user":
		return []string{"username", "password"}
	case "vhost":
		return []string{"username", "vhost", "ip"}
	case "resource":
		return []string{"username", "vhost", "resource", "name", "permission"}
	case "topic":
		return []string{"username", "vhost", "resource", "name", "permission", "routing_key"}
	default:
		return nil
	}
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, allowed bool) {
	decision := decisionDeny
	if allowed {
		decision = decisionAllow
	}
	metrics.BrokerAuthDecisions.WithLabelValues(endpoint, decision).Inc()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(decision)) //nolint:errcheck
}

func (s *Server) decideUser(ctx context.Context, m Manager, form map[string]string) (bool, error) {
	return m.AuthenticateUser(ctx, form["username"], form["password"])
}

func (s *Server) decideVhost(ctx context.Context, m Manager, form map[string]string) (bool, error) {
	return m.AllowVhost(ctx, form["username"], form["vhost"], form["ip"])
}

func (s *Server) decideResource(ctx context.Context, m Manager, form map[string]string) (bool, error) {
	return m.AllowResource(ctx, form["username"], form["vhost"], form["resource"], form["name"], form["permission"])
}

func (s *Server) decideTopic(ctx context.Context, m Manager, form map[string]string) (bool, error) {
	return m.AllowTopic(ctx, form["username"], form["vhost"], form["resource"], form["name"], form["permission"], form["routing_key"])
}
