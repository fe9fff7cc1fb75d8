// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package api exposes the session controller over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensor_collector/internal/reading"
	"github.com/relabs-tech/sensor_collector/internal/session"
)

// ArchiveReader reads back archived sessions.
type ArchiveReader interface {
	Sessions(ctx context.Context) ([]string, error)
	Load(ctx context.Context, sessionID string) (reading.Bulk, error)
}

// Server holds what the handlers need.
type Server struct {
	Controller    *session.Controller
	DefaultServer string        // upload target when a stop request names none
	Archive       ArchiveReader // optional
	WS            http.Handler  // status websocket, optional
	StaticDir     string        // optional
}

// NewRouter wires every route.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			log.Printf("api: health write: %v", err)
		}
	}).Methods("GET")

	r.HandleFunc("/api/sensors", s.handleSensors).Methods("GET")
	r.HandleFunc("/api/session", s.handleSnapshot).Methods("GET")
	r.HandleFunc("/api/selection", s.handleSelect).Methods("POST")
	r.HandleFunc("/api/selection", s.handleResetSelection).Methods("DELETE")
	r.HandleFunc("/api/session/start", s.handleStart).Methods("POST")
	r.HandleFunc("/api/session/stop", s.handleStop).Methods("POST")
	r.HandleFunc("/api/archive", s.handleArchiveList).Methods("GET")
	r.HandleFunc("/api/archive/{id}", s.handleArchiveLoad).Methods("GET")

	if s.WS != nil {
		r.Handle("/ws", s.WS).Methods("GET")
	}
	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir))).Methods("GET")
	}
	return r
}
