// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/reading"
)

// Naming selects how session files are named.
type Naming int

const (
	// NamingTimestamp writes sensor_data_{yyyyMMdd_HHmmss}.json.
	NamingTimestamp Naming = iota
	// NamingFixed overwrites session_data.json on every session.
	NamingFixed
)

const (
	FixedFileName   = "session_data.json"
	timestampLayout = "20060102_150405"
)

// ParseNaming maps a config value to a Naming.
func ParseNaming(s string) (Naming, error) {
	switch s {
	case "", "timestamp":
		return NamingTimestamp, nil
	case "fixed":
		return NamingFixed, nil
	}
	return 0, fmt.Errorf("unknown output naming %q (want timestamp or fixed)", s)
}

// Writer persists a session's records as a JSON array under Dir.
type Writer struct {
	Dir    string
	Naming Naming

	now func() time.Time
}

// NewWriter returns a writer using local time for timestamped names.
func NewWriter(dir string, naming Naming) *Writer {
	return &Writer{Dir: dir, Naming: naming, now: time.Now}
}

// FileName returns the name of the file a session stopped at t goes to.
func (w *Writer) FileName(t time.Time) string {
	if w.Naming == NamingFixed {
		return FixedFileName
	}
	return "sensor_data_" + t.Format(timestampLayout) + ".json"
}

// Persist writes records and returns the file path. The file appears under
// its final name only once it has been fully written.
func (w *Writer) Persist(records []reading.Record) (string, error) {
	if records == nil {
		records = []reading.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	now := time.Now
	if w.now != nil {
		now = w.now
	}
	path := filepath.Join(w.Dir, w.FileName(now()))

	tmp, err := os.CreateTemp(w.Dir, ".session-*.json")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename to %s: %w", path, err)
	}
	return path, nil
}
