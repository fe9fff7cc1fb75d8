// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reading

// Record represents a single sensor observation with its session metadata.
// Field names match what the collection backend expects.
type Record struct {
	ExperimentID string `json:"experimentId"`
	SubjectID    string `json:"patientId"`
	Device       string `json:"device,omitempty"`

	SensorName string    `json:"sensorId"`
	SensorKind int       `json:"sensorType"`
	Values     []float32 `json:"data"`      // raw sample vector, length depends on sensor kind
	Timestamp  int64     `json:"timestamp"` // sensor clock, nanoseconds
	Accuracy   int       `json:"accuracy"`
}

// Bulk is the body of a bulk upload: one experiment, all of its records.
type Bulk struct {
	ExperimentID string   `json:"experimentId"`
	Data         []Record `json:"data"`
}

// NewBulk wraps records for a bulk upload. The experiment id is taken from
// the first record; a session never mixes experiments.
func NewBulk(records []Record) Bulk {
	b := Bulk{Data: records}
	if len(records) > 0 {
		b.ExperimentID = records[0].ExperimentID
	}
	if b.Data == nil {
		b.Data = []Record{}
	}
	return b
}

// SubjectOf returns the subject id of a batch, or "" for an empty batch.
func SubjectOf(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	return records[0].SubjectID
}
