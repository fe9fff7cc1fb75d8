// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package collector turns sensor callbacks into reading records for one
// session.
package collector

import (
	"sync"

	"github.com/relabs-tech/sensor_collector/internal/reading"
)

// Metadata is copied into every record.
type Metadata struct {
	SubjectID    string `json:"subjectId"`
	ExperimentID string `json:"experimentId"`
	Device       string `json:"device,omitempty"`
}

// Collector is a sensors.Listener that appends one record per sample.
// A Collector serves exactly one session; create a new one per session.
type Collector struct {
	mu      sync.Mutex
	meta    Metadata
	records []reading.Record
	drained bool
	dropped int
}

// New returns an empty collector stamping records with meta.
func New(meta Metadata) *Collector {
	return &Collector{meta: meta}
}

// SetMetadata changes the metadata for records created from now on.
// Records already collected keep their values.
func (c *Collector) SetMetadata(meta Metadata) {
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
}

// Metadata returns the current metadata.
func (c *Collector) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// OnSample records one sensor event. Every call produces exactly one
// record; nothing is filtered or merged.
func (c *Collector) OnSample(kind int, name string, values []float32, timestampNanos int64, accuracy int) {
	// the caller may reuse its buffer
	data := make([]float32, len(values))
	copy(data, values)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drained {
		c.dropped++
		return
	}
	c.records = append(c.records, reading.Record{
		ExperimentID: c.meta.ExperimentID,
		SubjectID:    c.meta.SubjectID,
		Device:       c.meta.Device,
		SensorName:   name,
		SensorKind:   kind,
		Values:       data,
		Timestamp:    timestampNanos,
		Accuracy:     accuracy,
	})
}

// OnAccuracyChange is ignored: accuracy travels with every sample.
func (c *Collector) OnAccuracyChange(name string, accuracy int) {}

// Len returns the number of records collected so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Drain hands over the collected records and closes the collector.
// Samples arriving after Drain are dropped, so the returned slice is never
// written again.
func (c *Collector) Drain() []reading.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.records
	c.records = nil
	c.drained = true
	return out
}

// Dropped reports how many samples arrived after Drain.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
