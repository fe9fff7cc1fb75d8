// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session owns the start/stop lifecycle of a collection run.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/sensor_collector/internal/collector"
	"github.com/relabs-tech/sensor_collector/internal/reading"
	"github.com/relabs-tech/sensor_collector/internal/sensors"
	"github.com/relabs-tech/sensor_collector/internal/status"
	"github.com/relabs-tech/sensor_collector/internal/upload"
)

// DefaultID replaces a blank subject or experiment id.
const DefaultID = "0"

var (
	ErrSessionActive     = errors.New("session: selection is locked while collecting")
	ErrAlreadyCollecting = errors.New("session: already collecting")
	ErrNotCollecting     = errors.New("session: not collecting")
)

// State of the controller.
type State int

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	if s == Collecting {
		return "collecting"
	}
	return "idle"
}

// Persister writes a finished batch locally.
type Persister interface {
	Persist(records []reading.Record) (string, error)
}

// Uploader sends a finished batch to the backend.
type Uploader interface {
	Upload(ctx context.Context, server string, records []reading.Record) upload.Result
}

// Archiver keeps an extra copy of a finished batch.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, records []reading.Record) error
}

// Outcome describes what happened to a non-empty batch after Stop.
type Outcome struct {
	SessionID  string
	Records    int
	File       string
	PersistErr error
	ArchiveErr error
	Upload     upload.Result
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State      string             `json:"state"`
	SessionID  string             `json:"sessionId,omitempty"`
	Selection  []sensors.Sensor   `json:"selection"`
	Metadata   collector.Metadata `json:"metadata"`
	Records    int                `json:"records"`
	LastStatus string             `json:"lastStatus,omitempty"`
}

// Options holds the optional collaborators of a Controller.
type Options struct {
	Archiver      Archiver
	Sink          status.Sink
	Device        string
	UploadTimeout time.Duration
}

// Controller drives one session at a time over a sensor source.
type Controller struct {
	source    sensors.Source
	persister Persister
	uploader  Uploader
	archiver  Archiver
	sink      status.Sink
	device    string
	timeout   time.Duration

	mu         sync.Mutex
	state      State
	selection  []sensors.Sensor
	sessionID  string
	meta       collector.Metadata
	collector  *collector.Collector
	lastStatus string
	inflight   sync.WaitGroup
}

// New creates an idle controller.
func New(source sensors.Source, persister Persister, uploader Uploader, opts Options) *Controller {
	c := &Controller{
		source:    source,
		persister: persister,
		uploader:  uploader,
		archiver:  opts.Archiver,
		sink:      opts.Sink,
		device:    opts.Device,
		timeout:   opts.UploadTimeout,
	}
	if c.timeout <= 0 {
		c.timeout = time.Minute
	}
	return c
}

// Sensors lists what the source offers.
func (c *Controller) Sensors() []sensors.Sensor {
	return c.source.Sensors()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectSensor adds a sensor to the selection. A blank or unknown name and
// an already selected sensor are ignored.
func (c *Controller) SelectSensor(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Collecting {
		return ErrSessionActive
	}
	if name == "" {
		return nil
	}
	for _, s := range c.selection {
		if s.Name == name {
			return nil
		}
	}
	s, ok := sensors.Lookup(c.source, name)
	if !ok {
		log.Printf("session: sensor %q not offered by the source, ignoring", name)
		return nil
	}
	c.selection = append(c.selection, s)
	c.publishLocked(status.KindSelection, "Selected "+strings.Join(c.selectionNamesLocked(), ", "), 0)
	return nil
}

// ResetSelection clears the selection.
func (c *Controller) ResetSelection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Collecting {
		return ErrSessionActive
	}
	c.selection = nil
	c.publishLocked(status.KindSelection, "Selection cleared", 0)
	return nil
}

// Selection returns the selected sensors in insertion order.
func (c *Controller) Selection() []sensors.Sensor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sensors.Sensor(nil), c.selection...)
}

// Start begins a session. Blank ids become DefaultID.
func (c *Controller) Start(subjectID, experimentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Collecting {
		return ErrAlreadyCollecting
	}

	if strings.TrimSpace(subjectID) == "" {
		subjectID = DefaultID
	}
	if strings.TrimSpace(experimentID) == "" {
		experimentID = DefaultID
	}

	meta := collector.Metadata{SubjectID: subjectID, ExperimentID: experimentID, Device: c.device}
	col := collector.New(meta)

	for _, s := range c.selection {
		if err := c.source.Register(col, s, sensors.RateNormal); err != nil {
			c.source.Unregister(col)
			return fmt.Errorf("session: register %q: %w", s.Name, err)
		}
	}

	c.meta = meta
	c.collector = col
	c.sessionID = uuid.NewString()
	c.state = Collecting

	log.Printf("session: started collecting data for %d sensors (subject=%s experiment=%s)", len(c.selection), subjectID, experimentID)
	c.publishLocked(status.KindStarted, fmt.Sprintf("Collecting from %d sensors", len(c.selection)), 0)
	return nil
}

// Stop ends the session and returns without waiting for persistence or
// upload. The channel yields one Outcome and is closed; for an empty batch
// it is closed without a value and nothing is persisted or uploaded.
func (c *Controller) Stop(server string) (<-chan Outcome, error) {
	_, done, err := c.StopCounted(server)
	return done, err
}

// StopCounted is Stop that also reports how many records were drained.
func (c *Controller) StopCounted(server string) (int, <-chan Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Collecting {
		return 0, nil, ErrNotCollecting
	}

	c.source.Unregister(c.collector)
	records := c.collector.Drain()
	if dropped := c.collector.Dropped(); dropped > 0 {
		log.Printf("session: %d late samples dropped", dropped)
	}

	sessionID := c.sessionID
	c.state = Idle
	c.collector = nil

	log.Printf("session: stopped collecting data, total points: %d", len(records))

	done := make(chan Outcome, 1)
	if len(records) == 0 {
		log.Println("session: WARNING: no data collected, skipping save and upload")
		c.publishLocked(status.KindEmpty, "No data collected", 0)
		close(done)
		return 0, done, nil
	}

	c.publishLocked(status.KindStopped, fmt.Sprintf("Stopped, %d records", len(records)), len(records))

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(done)
		done <- c.finish(sessionID, server, records)
	}()
	return len(records), done, nil
}

// Wait blocks until every pending persist/upload has finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) finish(sessionID, server string, records []reading.Record) Outcome {
	out := Outcome{SessionID: sessionID, Records: len(records)}

	path, err := c.persister.Persist(records)
	if err != nil {
		log.Printf("session: failed to save data: %v", err)
		out.PersistErr = err
		c.publish(sessionID, status.KindPersistFailed, "Save failed: "+err.Error(), len(records))
	} else {
		log.Printf("session: saved data to %s", path)
		out.File = path
		c.publish(sessionID, status.KindPersisted, "Saved "+path, len(records))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, sessionID, records); err != nil {
			log.Printf("session: archive failed: %v", err)
			out.ArchiveErr = err
		}
	}

	out.Upload = c.uploader.Upload(ctx, server, records)
	kind := status.KindUploaded
	if !out.Upload.OK {
		kind = status.KindUploadFailed
	}
	c.publish(sessionID, kind, out.Upload.Status(), len(records))
	return out
}

// Snapshot returns the current view for status displays.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state.String(),
		Selection:  append([]sensors.Sensor{}, c.selection...),
		Metadata:   c.meta,
		LastStatus: c.lastStatus,
	}
	if c.state == Collecting {
		snap.SessionID = c.sessionID
		snap.Records = c.collector.Len()
	}
	return snap
}

func (c *Controller) selectionNamesLocked() []string {
	names := make([]string, len(c.selection))
	for i, s := range c.selection {
		names[i] = s.Name
	}
	return names
}

func (c *Controller) publishLocked(kind status.Kind, text string, records int) {
	c.lastStatus = text
	if c.sink == nil {
		return
	}
	sessionID := ""
	if c.state == Collecting || kind == status.KindStopped || kind == status.KindEmpty {
		sessionID = c.sessionID
	}
	c.sink.Publish(status.Event{
		SessionID: sessionID,
		State:     c.state.String(),
		Kind:      kind,
		Text:      text,
		Records:   records,
		Time:      time.Now(),
	})
}

// publish is used from the upload goroutine, after the session ended.
func (c *Controller) publish(sessionID string, kind status.Kind, text string, records int) {
	c.mu.Lock()
	c.lastStatus = text
	state := c.state.String()
	c.mu.Unlock()

	if c.sink == nil {
		return
	}
	c.sink.Publish(status.Event{
		SessionID: sessionID,
		State:     state,
		Kind:      kind,
		Text:      text,
		Records:   records,
		Time:      time.Now(),
	})
}
