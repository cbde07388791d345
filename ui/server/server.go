// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package server serves the live console feed over a WebSocket and the
// Prometheus metrics of the process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olivere/jobconsole"
)

// Server is a simple web server with a WebSocket backend.
type Server struct {
	c         *jobconsole.Console
	logger    jobconsole.Logger
	hub       *hub
	interval  time.Duration
	publicDir string
}

// Option configures a Server.
type Option func(*Server)

// SetLogger specifies the logger to use.
func SetLogger(logger jobconsole.Logger) Option {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// SetInterval specifies how often the state is pushed to all clients.
func SetInterval(d time.Duration) Option {
	return func(srv *Server) {
		srv.interval = d
	}
}

// SetPublicDir serves static files from dir under /.
func SetPublicDir(dir string) Option {
	return func(srv *Server) {
		srv.publicDir = dir
	}
}

// New initializes a new Server.
func New(c *jobconsole.Console, options ...Option) *Server {
	srv := &Server{
		c:        c,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		hub:      newHub(),
		interval: time.Second,
	}
	for _, opt := range options {
		opt(srv)
	}
	return srv
}

// Handler returns the routes of the server. Run must be running for
// WebSocket clients to be served.
func (srv *Server) Handler() http.Handler {
	r := http.NewServeMux()
	r.Handle("/ws", wsserver{srv: srv})
	r.Handle("/metrics", promhttp.Handler())
	if srv.publicDir != "" {
		r.Handle("/", http.FileServer(http.Dir(srv.publicDir)))
	}
	return r
}

// Run runs the hub and pushes the state until ctx is done.
func (srv *Server) Run(ctx context.Context) {
	go srv.hub.run(ctx)
	srv.watch(ctx)
}

// Serve starts the web server at the given address and blocks until
// ctx is done or the server fails.
func (srv *Server) Serve(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go srv.Run(ctx)

	hs := &http.Server{Addr: addr, Handler: srv.Handler()}
	errc := make(chan error, 1)
	go func() {
		errc <- hs.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := hs.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// State is the current state of the job system.
type State struct {
	Type     string               `json:"type"`
	Message  string               `json:"message,omitempty"`
	Overview *jobconsole.Overview `json:"overview,omitempty"`
}

func (srv *Server) state(ctx context.Context) *State {
	ov, err := srv.c.Overview(ctx)
	if err != nil {
		if jobconsole.IsStoreUnavailable(err) {
			return &State{Type: "STORE_UNAVAILABLE", Message: "Store is unavailable"}
		}
		srv.logger.Printf("ui: %v", err)
		return &State{Type: "ERROR", Message: err.Error()}
	}
	return &State{Type: "SET_STATE", Overview: ov}
}

func (srv *Server) watch(ctx context.Context) {
	t := time.NewTicker(srv.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			payload, err := json.Marshal(srv.state(ctx))
			if err != nil {
				srv.logger.Printf("ui: %v", err)
				continue
			}
			srv.hub.publish(payload)
		case <-ctx.Done():
			return
		}
	}
}
