// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensor_collector/internal/archive"
	"github.com/relabs-tech/sensor_collector/internal/session"
)

type selectRequest struct {
	Name string `json:"name"`
}

type startRequest struct {
	SubjectID    string `json:"subjectId"`
	ExperimentID string `json:"experimentId"`
}

type stopRequest struct {
	Server string `json:"server"`
}

type stopResponse struct {
	Records int    `json:"records"`
	Server  string `json:"server"`
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Sensors())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Controller.SelectSensor(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) handleResetSelection(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.ResetSelection(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Controller.Start(req.SubjectID, req.ExperimentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !decode(w, r, &req) {
		return
	}
	server := req.Server
	if server == "" {
		server = s.DefaultServer
	}

	records, _, err := s.Controller.StopCounted(server)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stopResponse{Records: records, Server: server})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	ids, err := s.Archive.Sessions(r.Context())
	if err != nil {
		log.Printf("api: archive list: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleArchiveLoad(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	bulk, err := s.Archive.Load(r.Context(), id)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		log.Printf("api: archive load %s: %v", id, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, bulk)
}

// decode accepts an empty body as the zero request.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
	return false
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrAlreadyCollecting),
		errors.Is(err, session.ErrNotCollecting):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("api: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}
