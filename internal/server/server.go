// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ea2p/powermeter/config"
	"github.com/ea2p/powermeter/internal/service"
	"github.com/prometheus/exporter-toolkit/web"
)

// APIService defines the interface for the HTTP server providing API endpoints
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// APIServer serves the registered endpoints through exporter-toolkit so
// TLS and basic auth come from the web config file
type APIServer struct {
	logger *slog.Logger

	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig

	mu        sync.Mutex
	endpoints []endpoint
}

type endpoint struct {
	path, summary, description string
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger    *slog.Logger
	webConfig *web.FlagConfig
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listening addresses and webconfig path for the APIServer
func WithListen(addrs []string, path string) OptionFn {
	return func(o *Opts) {
		o.webConfig = &web.FlagConfig{
			WebListenAddresses: &addrs,
			WebConfigFile:      &path,
		}
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	webConfigFile := ""
	return Opts{
		logger: slog.Default(),
		webConfig: &web.FlagConfig{
			WebListenAddresses: &[]string{config.DefaultPort},
			WebConfigFile:      &webConfigFile,
		},
	}
}

// NewAPIServer creates a new APIServer instance
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger:    opts.logger.With("service", "api-server"),
		mux:       mux,
		server:    &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		webConfig: opts.webConfig,
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

func (s *APIServer) Init() error {
	s.logger.Info("Initializing server", "listen", *s.webConfig.WebListenAddresses)
	s.mux.HandleFunc("/", s.landingPage)
	return nil
}

// landingPage lists the registered endpoints
func (s *APIServer) landingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	items := ""
	for _, e := range s.endpoints {
		items += fmt.Sprintf("<li><a href=%q>%s</a> %s</li>\n", e.path, e.summary, e.description)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := fmt.Fprintf(w, `<html>
<head><title>powermeter</title></head>
<body>
<h1>powermeter</h1>
<p>Available endpoints:</p>
<ul>
%s</ul>
</body>
</html>`, items)
	if err != nil {
		s.logger.Error("failed to write landing page", "error", err)
	}
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running server")
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server on context done")
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("server returned an error", "error", err)
		return err
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down API server on request")

	// NOTE: ensure http server shuts down within 5 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register mounts handler at path and lists it on the landing page
func (s *APIServer) Register(path, summary, description string, handler http.Handler) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("invalid endpoint %q: must start with /", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.endpoints {
		if e.path == path {
			return fmt.Errorf("endpoint %q already registered", path)
		}
	}

	s.logger.Debug("Endpoint Registered", "endpoint", path)
	s.mux.Handle(path, handler)
	s.endpoints = append(s.endpoints, endpoint{path, summary, description})
	return nil
}
