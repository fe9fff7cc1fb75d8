// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"time"
)

// Sensor kind codes. The public codes follow the numbering used by mobile
// sensor frameworks so recordings from phones and from the Pi share one
// backend schema. Vendor sensors live above KindPrivateBase.
const (
	KindAccelerometer      = 1
	KindMagneticField      = 2
	KindGyroscope          = 4
	KindPressure           = 6
	KindGravity            = 9
	KindLinearAcceleration = 10
	KindRotationVector     = 11
	KindSignificantMotion  = 17

	KindPrivateBase  = 65536
	KindLocation     = KindPrivateBase + 1 // lat, lon, speed (knots), course (deg)
	KindShakeTracker = KindPrivateBase + 2
)

// Accuracy codes reported with every sample.
const (
	AccuracyUnreliable = 0
	AccuracyLow        = 1
	AccuracyMedium     = 2
	AccuracyHigh       = 3
)

// ErrNoData is returned by a reader that has nothing to report yet
// (e.g. GPS without a fix). The poller skips the tick silently.
var ErrNoData = errors.New("sensors: no data available")

// Sensor identifies one sensor offered by a Source.
type Sensor struct {
	Name string `json:"name"`
	Kind int    `json:"kind"`
}

// Listener receives samples from a Source. Callbacks run on the source's
// own goroutines, never on the caller of Register.
type Listener interface {
	OnSample(kind int, name string, values []float32, timestampNanos int64, accuracy int)
	OnAccuracyChange(name string, accuracy int)
}

// Source is a sensor service that delivers samples asynchronously.
type Source interface {
	// Sensors lists the sensors this source can deliver, in a stable order.
	Sensors() []Sensor
	// Register starts delivering samples of s to l at roughly the given rate.
	// Registering the same listener for the same sensor twice is a no-op.
	Register(l Listener, s Sensor, rate Rate) error
	// Unregister stops every delivery to l. When it returns no callback for
	// l is running and none will run.
	Unregister(l Listener)
}

// Rate is a coarse delivery rate.
type Rate int

const (
	RateNormal Rate = iota
	RateUI
	RateGame
	RateFastest
)

// Interval returns the polling interval for the rate.
func (r Rate) Interval() time.Duration {
	switch r {
	case RateUI:
		return 66667 * time.Microsecond
	case RateGame:
		return 20 * time.Millisecond
	case RateFastest:
		return time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

func (r Rate) String() string {
	switch r {
	case RateUI:
		return "ui"
	case RateGame:
		return "game"
	case RateFastest:
		return "fastest"
	default:
		return "normal"
	}
}

// Lookup finds a sensor by exact name.
func Lookup(src Source, name string) (Sensor, bool) {
	for _, s := range src.Sensors() {
		if s.Name == name {
			return s, true
		}
	}
	return Sensor{}, false
}

// Filter keeps the sensors whose names appear in allowed, in the order of
// all. An empty allow-list keeps everything.
func Filter(all []Sensor, allowed []string) []Sensor {
	if len(allowed) == 0 {
		return append([]Sensor(nil), all...)
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	out := make([]Sensor, 0, len(allowed))
	for _, s := range all {
		if _, ok := set[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Restrict wraps src so it only offers the allowed sensors. An empty
// allow-list returns src unchanged.
func Restrict(src Source, allowed []string) Source {
	if len(allowed) == 0 {
		return src
	}
	return &restricted{Source: src, allowed: Filter(src.Sensors(), allowed)}
}

type restricted struct {
	Source
	allowed []Sensor
}

func (r *restricted) Sensors() []Sensor {
	return append([]Sensor(nil), r.allowed...)
}

func (r *restricted) Register(l Listener, s Sensor, rate Rate) error {
	if _, ok := Lookup(r, s.Name); !ok {
		return fmt.Errorf("sensors: %q is not in the allow-list", s.Name)
	}
	return r.Source.Register(l, s, rate)
}
