// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"math"
	"time"
)

// DefaultMockSensors mirrors the sensor set of the phones used for the
// first data collection campaign.
var DefaultMockSensors = []Sensor{
	{Name: "LSM6DSO Acceleration Sensor", Kind: KindAccelerometer},
	{Name: "LSM6DSO Gyroscope Sensor", Kind: KindGyroscope},
	{Name: "Samsung Shake Tracker", Kind: KindShakeTracker},
	{Name: "Samsung Rotation Vector", Kind: KindRotationVector},
	{Name: "Motion Sensor", Kind: KindSignificantMotion},
	{Name: "Gravity Sensor", Kind: KindGravity},
	{Name: "Linear Acceleration Sensor", Kind: KindLinearAcceleration},
}

// MockSource generates smooth synthetic samples for a fixed sensor list.
type MockSource struct {
	sensors []Sensor
	start   time.Time
	*poller
}

// NewMockSource creates a mock source. With no sensors given it offers
// DefaultMockSensors.
func NewMockSource(sensors ...Sensor) *MockSource {
	if len(sensors) == 0 {
		sensors = DefaultMockSensors
	}
	m := &MockSource{
		sensors: append([]Sensor(nil), sensors...),
		start:   time.Now(),
	}
	m.poller = newPoller(m.read)
	return m
}

func (m *MockSource) Sensors() []Sensor {
	return append([]Sensor(nil), m.sensors...)
}

func (m *MockSource) Register(l Listener, s Sensor, rate Rate) error {
	if _, ok := Lookup(m, s.Name); !ok {
		return fmt.Errorf("mock source: unknown sensor %q", s.Name)
	}
	m.register(l, s, rate)
	return nil
}

func (m *MockSource) Unregister(l Listener) {
	m.unregister(l)
}

func (m *MockSource) Close() error {
	return nil
}

func (m *MockSource) read(s Sensor) ([]float32, int, error) {
	t := time.Since(m.start).Seconds()
	return mockValues(s.Kind, t), AccuracyHigh, nil
}

// mockValues returns a waveform whose shape depends on the sensor kind.
func mockValues(kind int, t float64) []float32 {
	sin := func(a, f, p float64) float32 { return float32(a * math.Sin(f*t+p)) }

	switch kind {
	case KindAccelerometer:
		return []float32{sin(2, 1, 0), sin(2, 0.7, 1), 9.80665 + sin(0.5, 2, 0)}
	case KindGravity:
		return []float32{sin(0.3, 0.2, 0), sin(0.3, 0.1, 1), 9.8}
	case KindLinearAcceleration, KindGyroscope, KindMagneticField:
		return []float32{sin(1, 1.3, 0), sin(1, 0.9, 2), sin(1, 0.5, 4)}
	case KindRotationVector:
		half := math.Mod(t*0.5, 2*math.Pi) / 2
		return []float32{0, 0, float32(math.Sin(half)), float32(math.Cos(half)), 0}
	case KindSignificantMotion, KindShakeTracker:
		if math.Mod(t, 5) < 0.5 {
			return []float32{1}
		}
		return []float32{0}
	case KindPressure:
		return []float32{1013.25 + sin(0.2, 0.05, 0)}
	default:
		return []float32{sin(1, 1, 0)}
	}
}
