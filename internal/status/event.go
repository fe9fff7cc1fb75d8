// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package status

import (
	"log"
	"sync"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	KindSelection     Kind = "selection"
	KindStarted       Kind = "started"
	KindStopped       Kind = "stopped"
	KindEmpty         Kind = "empty"
	KindPersisted     Kind = "persisted"
	KindPersistFailed Kind = "persist_failed"
	KindUploaded      Kind = "uploaded"
	KindUploadFailed  Kind = "upload_failed"
)

// Event is one operator-visible status update.
type Event struct {
	SessionID string    `json:"sessionId,omitempty"`
	State     string    `json:"state"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Records   int       `json:"records"`
	Time      time.Time `json:"time"`
}

// Sink receives status events. Publish must not block for long; it is
// called from the session controller and from upload goroutines.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Multi fans events out to several sinks in order.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti returns a fan-out over sinks; nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *Multi) Publish(ev Event) {
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ev)
	}
}

// LogSink writes every event to the standard logger.
type LogSink struct{}

func (LogSink) Publish(ev Event) {
	if ev.SessionID != "" {
		log.Printf("status: [%s] %s (%s, %d records): %s", ev.SessionID, ev.Kind, ev.State, ev.Records, ev.Text)
		return
	}
	log.Printf("status: %s (%s): %s", ev.Kind, ev.State, ev.Text)
}
