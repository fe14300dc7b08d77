// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hybridgroup/cylon-spark/pkg/driver"
	"github.com/hybridgroup/cylon-spark/pkg/service"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

const (
	defaultHostKeyPath = ".ssh/id_ed25519"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests (0 disables HTTP)
	HTTPPort int
	// Port to listen on for SSH requests (0 disables SSH)
	SSHPort int
	// Path of the SSH host key, created when missing
	SSHHostKeyPath string
}

// Server runs the HTTP and SSH servers for the service.
type Server struct {
	Config
	log     zerolog.Logger
	ui      bubbletea.Handler
	service Service
}

// Service exposes the worker to the servers.
type Service interface {
	Driver() *driver.Driver
	Store() *status.Store
	Info() service.Info
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, ui bubbletea.Handler, service Service) (*Server, error) {
	if cfg.SSHHostKeyPath == "" {
		cfg.SSHHostKeyPath = defaultHostKeyPath
	}
	return &Server{
		Config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		ui:      ui,
		service: service,
	}, nil
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := s.log

	var httpSrv *http.Server
	if s.HTTPPort != 0 {
		// Prepare HTTP listener
		httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
		httpLis, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on address %s", httpAddr)
		}

		// Prepare HTTP server
		httpSrv = &http.Server{
			Handler: s.newRouter(),
		}

		// Serve apis
		log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
		go func() {
			if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("failed to serve HTTP server")
			}
			log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
		}()
	}

	var sshServer *ssh.Server
	if s.SSHPort != 0 && s.ui != nil {
		// Prepare SSH server
		sshAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.SSHPort))
		var err error
		sshServer, err = wish.NewServer(
			// The address the server will listen to.
			wish.WithAddress(sshAddr),

			// The SSH server need its own keys, this will create a keypair in the
			// given path if it doesn't exist yet.
			// By default, it will create an ED25519 key.
			wish.WithHostKeyPath(s.SSHHostKeyPath),

			// Middlewares do something on a ssh.Session, and then call the next
			// middleware in the stack.
			wish.WithMiddleware(
				bubbletea.Middleware(s.ui),
				// The last item in the chain is the first to be called.
				activeterm.Middleware(),
				logging.Middleware(),
			),
		)
		if err != nil {
			if httpSrv != nil {
				httpSrv.Close()
			}
			return errors.Wrap(err, "could not start SSH server")
		}

		// Serve UI
		log.Debug().Str("address", sshAddr).Msg("Serving SSH")
		go func() {
			if err := sshServer.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
				log.Error().Err(err).Msg("failed to serve SSH server")
			}
			log.Debug().Str("address", sshAddr).Msg("Done Serving SSH")
		}()
	}

	// Wait until context closed
	<-ctx.Done()

	log.Info().Msg("Closing servers")
	if httpSrv != nil {
		httpSrv.Shutdown(context.Background())
	}
	if sshServer != nil {
		sshServer.Shutdown(context.Background())
	}
	return nil
}

// newRouter creates the HTTP routes.
func (s *Server) newRouter() *echo.Echo {
	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.HidePort = true
	httpRouter.GET("/health", healthHandler)
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))

	api := httpRouter.Group("/api/v1")
	api.GET("/device", s.getDevice)
	api.GET("/commands", s.getCommands)
	api.GET("/readings", s.getReadings)
	api.PUT("/pins/:pin/:mode", s.writePin)
	api.POST("/functions/:name", s.callFunction)
	api.GET("/variables/:name", s.getVariable)
	return httpRouter
}

func healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK\n")
}
