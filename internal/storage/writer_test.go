package storage

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/reading"
)

func sampleRecords() []reading.Record {
	return []reading.Record{
		{SubjectID: "7", ExperimentID: "3", SensorName: "Accel", SensorKind: 1, Values: []float32{1, 2, 3}, Timestamp: 10, Accuracy: 3},
		{SubjectID: "7", ExperimentID: "3", SensorName: "Accel", SensorKind: 1, Values: []float32{4, 5, 6}, Timestamp: 20, Accuracy: 3},
	}
}

func TestPersistTimestampedName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewWriter(dir, NamingTimestamp)
	w.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local) }

	path, err := w.Persist(sampleRecords())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if filepath.Base(path) != "sensor_data_20250314_092653.json" {
		t.Fatalf("unexpected file name %q", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got []reading.Record
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("file is not a JSON array of records: %v", err)
	}
	if len(got) != 2 || got[1].Values[2] != 6 {
		t.Fatalf("unexpected content %+v", got)
	}
}

func TestPersistFixedNameOverwrites(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "repo")
	w := NewWriter(dir, NamingFixed)

	if _, err := w.Persist(sampleRecords()); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	path, err := w.Persist(sampleRecords()[:1])
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if filepath.Base(path) != FixedFileName {
		t.Fatalf("unexpected file name %q", path)
	}

	raw, _ := os.ReadFile(path)
	var got []reading.Record
	if err := json.Unmarshal(raw, &got); err != nil || len(got) != 1 {
		t.Fatalf("expected the second batch only, got %d records (err=%v)", len(got), err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestPersistEncodeFailureWritesNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewWriter(dir, NamingFixed)

	bad := []reading.Record{{Values: []float32{float32(math.NaN())}}}
	if _, err := w.Persist(bad); err == nil {
		t.Fatalf("expected an encode error for NaN")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no file, got %v", entries)
	}
}

func TestParseNaming(t *testing.T) {
	t.Parallel()
	if n, err := ParseNaming("fixed"); err != nil || n != NamingFixed {
		t.Fatalf("fixed: %v %v", n, err)
	}
	if n, err := ParseNaming(""); err != nil || n != NamingTimestamp {
		t.Fatalf("default: %v %v", n, err)
	}
	if _, err := ParseNaming("daily"); err == nil {
		t.Fatalf("expected error for unknown naming")
	}
}
