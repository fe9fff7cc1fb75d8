// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"io"
	"log"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// Fix is the latest position reported by the GPS receiver.
type Fix struct {
	Latitude   float64
	Longitude  float64
	SpeedKnots float64
	CourseDeg  float64
	Validity   string // "A" (valid) / "V" (void)
}

// gpsReceiver keeps the most recent RMC fix read from a NMEA stream.
type gpsReceiver struct {
	port io.ReadCloser

	mu      sync.RWMutex
	fix     Fix
	haveFix bool

	done chan struct{}
}

func openGPS(portName string, baud int) (*gpsReceiver, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("sensors: GPS serial port opened on %s at %d baud", portName, baud)
	return newGPSReceiver(port), nil
}

func newGPSReceiver(port io.ReadCloser) *gpsReceiver {
	g := &gpsReceiver{port: port, done: make(chan struct{})}
	go g.loop()
	return g
}

func (g *gpsReceiver) loop() {
	defer close(g.done)

	reader := bufio.NewReader(g.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("sensors: GPS read error: %v", err)
			}
			return
		}
		g.handleLine(line)
	}
}

func (g *gpsReceiver) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// partial sentences are common right after the port opens
		return
	}
	if sentence.DataType() != nmea.TypeRMC {
		return
	}
	m := sentence.(nmea.RMC)

	g.mu.Lock()
	g.fix = Fix{
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Validity:   string(m.Validity),
	}
	g.haveFix = true
	g.mu.Unlock()
}

// read reports the fix as a location sample.
func (g *gpsReceiver) read() ([]float32, int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.haveFix {
		return nil, 0, ErrNoData
	}
	accuracy := AccuracyUnreliable
	if g.fix.Validity == nmea.ValidRMC {
		accuracy = AccuracyHigh
	}
	return []float32{
		float32(g.fix.Latitude),
		float32(g.fix.Longitude),
		float32(g.fix.SpeedKnots),
		float32(g.fix.CourseDeg),
	}, accuracy, nil
}

// Close closes the port. A read blocked in the serial driver may outlive
// the call; the loop exits on the next read error.
func (g *gpsReceiver) Close() error {
	return g.port.Close()
}
