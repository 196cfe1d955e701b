/*
Copyright 2023 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is what the monitor reports on, normally the daemon
type StatusProvider interface {
	Running() bool
	GroupsRunning() bool
	MetricsRegistry() *prometheus.Registry
	QueryStatus(ctx context.Context, id string) (*daemon.StatusReport, error)
}

// Server serves the health, metrics and status of a daemon over HTTP
type Server struct {
	logger         logger.Logger
	listenAddress  string
	statusProvider StatusProvider
	health         healthcheck.Handler
	router         chi.Router
	httpServer     *http.Server
}

func NewServer(parentLogger logger.Logger,
	statusProvider StatusProvider,
	configuration *config.Monitor) (*Server, error) {

	if configuration.ListenAddress == "" {
		return nil, errors.New("Monitor listen address must be set")
	}

	server := &Server{
		logger:         parentLogger.GetChild("monitor"),
		listenAddress:  configuration.ListenAddress,
		statusProvider: statusProvider,
		health:         healthcheck.NewHandler(),
	}

	server.health.AddLivenessCheck("daemon", func() error {
		if !statusProvider.Running() {
			return errors.New("Daemon is not running")
		}

		return nil
	})

	server.health.AddReadinessCheck("groups", func() error {
		if !statusProvider.GroupsRunning() {
			return errors.New("Not all groups are running")
		}

		return nil
	})

	server.router = server.createRouter()

	return server, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen on %s", s.listenAddress)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WarnWith("Monitor stopped serving", "err", err.Error())
		}
	}()

	s.logger.InfoWith("Listening", "listenAddress", listener.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) createRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/live", s.health.LiveEndpoint)
	router.Get("/ready", s.health.ReadyEndpoint)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.statusProvider.MetricsRegistry(),
		promhttp.HandlerOpts{}))
	router.Get("/status", s.getStatus)

	return router
}

// getStatus replies with the status of the children selected by the "id" query parameter
func (s *Server) getStatus(responseWriter http.ResponseWriter, request *http.Request) {
	statusReport, err := s.statusProvider.QueryStatus(request.Context(), request.URL.Query().Get("id"))
	if err != nil {
		s.logger.WarnWith("Failed to query status", "err", errors.RootCause(err).Error())
		s.writeJSON(responseWriter, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})

		return
	}

	s.writeJSON(responseWriter, http.StatusOK, statusReport)
}

func (s *Server) writeJSON(responseWriter http.ResponseWriter, statusCode int, body interface{}) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(statusCode)

	if err := json.NewEncoder(responseWriter).Encode(body); err != nil {
		s.logger.WarnWith("Failed to write response", "err", err.Error())
	}
}
