// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

const standardGravity = 9.80665

// Sensor names offered by the hardware source.
const (
	NameMPUAccelerometer = "MPU9250 Accelerometer"
	NameMPUGyroscope     = "MPU9250 Gyroscope"
	NameBMPPressure      = "BMP280 Pressure"
	NameGPSLocation      = "GPS Location"
)

// HardwareOptions selects the buses and ranges of the attached devices.
// Devices with an empty bus/port are skipped.
type HardwareOptions struct {
	IMUSPIDevice string
	IMUCSPin     string
	AccelRange   byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange    byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s

	BMPSPIDevice string

	GPSSerialPort string
	GPSBaudRate   int
}

// HardwareSource reads an MPU9250, a BMP280 and a NMEA GPS receiver.
type HardwareSource struct {
	opts    HardwareOptions
	sensors []Sensor

	busMu   sync.Mutex // IMU and BMP reads share the SPI controller
	imu     *mpu9250.MPU9250
	bmpPort spi.PortCloser
	bmp     *bmxx80.Dev
	gps     *gpsReceiver

	*poller
}

// NewHardwareSource initializes every configured device. Failing devices
// are logged and left out; it is an error only when none is available.
func NewHardwareSource(opts HardwareOptions) (*HardwareSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	h := &HardwareSource{opts: opts}
	h.poller = newPoller(h.read)

	if opts.IMUSPIDevice != "" {
		if err := h.initIMU(); err != nil {
			log.Printf("sensors: WARNING: IMU unavailable: %v", err)
		} else {
			h.sensors = append(h.sensors,
				Sensor{Name: NameMPUAccelerometer, Kind: KindAccelerometer},
				Sensor{Name: NameMPUGyroscope, Kind: KindGyroscope},
			)
		}
	}

	if opts.BMPSPIDevice != "" {
		if err := h.initBMP(); err != nil {
			log.Printf("sensors: WARNING: BMP unavailable: %v", err)
		} else {
			h.sensors = append(h.sensors, Sensor{Name: NameBMPPressure, Kind: KindPressure})
		}
	}

	if opts.GPSSerialPort != "" {
		g, err := openGPS(opts.GPSSerialPort, opts.GPSBaudRate)
		if err != nil {
			log.Printf("sensors: WARNING: GPS unavailable: %v", err)
		} else {
			h.gps = g
			h.sensors = append(h.sensors, Sensor{Name: NameGPSLocation, Kind: KindLocation})
		}
	}

	if len(h.sensors) == 0 {
		return nil, errors.New("no hardware sensor available")
	}
	return h, nil
}

func (h *HardwareSource) initIMU() error {
	cs := gpioreg.ByName(h.opts.IMUCSPin)
	if cs == nil {
		return fmt.Errorf("CS pin %q not found", h.opts.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(h.opts.IMUSPIDevice, cs)
	if err != nil {
		return fmt.Errorf("SPI transport (%s): %w", h.opts.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return fmt.Errorf("device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return fmt.Errorf("initialization: %w", err)
	}

	if err := dev.SetAccelRange(h.opts.AccelRange); err != nil {
		return fmt.Errorf("set accel range: %w", err)
	}
	log.Printf("sensors: IMU accelerometer range set to %d (±%dg)", h.opts.AccelRange, []int{2, 4, 8, 16}[h.opts.AccelRange])

	if err := dev.SetGyroRange(h.opts.GyroRange); err != nil {
		return fmt.Errorf("set gyro range: %w", err)
	}
	log.Printf("sensors: IMU gyroscope range set to %d (±%d°/s)", h.opts.GyroRange, []int{250, 500, 1000, 2000}[h.opts.GyroRange])

	if err := dev.Calibrate(); err != nil {
		log.Printf("sensors: WARNING: IMU calibration failed: %v", err)
	} else {
		log.Println("sensors: IMU calibration complete")
	}

	h.imu = dev
	return nil
}

func (h *HardwareSource) initBMP() error {
	port, err := spireg.Open(h.opts.BMPSPIDevice)
	if err != nil {
		return fmt.Errorf("SPI open (%s): %w", h.opts.BMPSPIDevice, err)
	}
	dev, err := bmxx80.NewSPI(port, &bmxx80.DefaultOpts)
	if err != nil {
		port.Close()
		return fmt.Errorf("init: %w", err)
	}
	h.bmpPort = port
	h.bmp = dev
	log.Printf("sensors: BMP initialized on %s", h.opts.BMPSPIDevice)
	return nil
}

func (h *HardwareSource) Sensors() []Sensor {
	return append([]Sensor(nil), h.sensors...)
}

func (h *HardwareSource) Register(l Listener, s Sensor, rate Rate) error {
	if _, ok := Lookup(h, s.Name); !ok {
		return fmt.Errorf("hardware source: unknown sensor %q", s.Name)
	}
	h.register(l, s, rate)
	return nil
}

func (h *HardwareSource) Unregister(l Listener) {
	h.unregister(l)
}

// Close releases the devices. Listeners must be unregistered first.
func (h *HardwareSource) Close() error {
	var errs []error
	if h.bmp != nil {
		errs = append(errs, h.bmp.Halt())
	}
	if h.bmpPort != nil {
		errs = append(errs, h.bmpPort.Close())
	}
	if h.gps != nil {
		errs = append(errs, h.gps.Close())
	}
	return errors.Join(errs...)
}

func (h *HardwareSource) read(s Sensor) ([]float32, int, error) {
	switch s.Name {
	case NameMPUAccelerometer:
		return h.readAccel()
	case NameMPUGyroscope:
		return h.readGyro()
	case NameBMPPressure:
		return h.readPressure()
	case NameGPSLocation:
		return h.gps.read()
	}
	return nil, 0, fmt.Errorf("unknown sensor %q", s.Name)
}

// readAccel returns acceleration in m/s².
func (h *HardwareSource) readAccel() ([]float32, int, error) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	ax, err := h.imu.GetAccelerationX()
	if err != nil {
		return nil, 0, fmt.Errorf("accel X: %w", err)
	}
	ay, err := h.imu.GetAccelerationY()
	if err != nil {
		return nil, 0, fmt.Errorf("accel Y: %w", err)
	}
	az, err := h.imu.GetAccelerationZ()
	if err != nil {
		return nil, 0, fmt.Errorf("accel Z: %w", err)
	}

	scale := accelScale(h.opts.AccelRange)
	return []float32{
		float32(float64(ax) * scale),
		float32(float64(ay) * scale),
		float32(float64(az) * scale),
	}, AccuracyHigh, nil
}

// readGyro returns angular rate in rad/s.
func (h *HardwareSource) readGyro() ([]float32, int, error) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	gx, err := h.imu.GetRotationX()
	if err != nil {
		return nil, 0, fmt.Errorf("gyro X: %w", err)
	}
	gy, err := h.imu.GetRotationY()
	if err != nil {
		return nil, 0, fmt.Errorf("gyro Y: %w", err)
	}
	gz, err := h.imu.GetRotationZ()
	if err != nil {
		return nil, 0, fmt.Errorf("gyro Z: %w", err)
	}

	scale := gyroScale(h.opts.GyroRange)
	return []float32{
		float32(float64(gx) * scale),
		float32(float64(gy) * scale),
		float32(float64(gz) * scale),
	}, AccuracyHigh, nil
}

// readPressure returns pressure in hPa.
func (h *HardwareSource) readPressure() ([]float32, int, error) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	var e physic.Env
	if err := h.bmp.Sense(&e); err != nil {
		return nil, 0, fmt.Errorf("BMP sense: %w", err)
	}
	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	return []float32{float32(pressurePa / 100.0)}, AccuracyHigh, nil
}

// accelScale converts raw counts to m/s². Full scale is ±2g at range 0 and
// doubles with every step.
func accelScale(rng byte) float64 {
	countsPerG := 16384.0 / math.Pow(2, float64(rng))
	return standardGravity / countsPerG
}

// gyroScale converts raw counts to rad/s.
func gyroScale(rng byte) float64 {
	countsPerDeg := 131.0 / math.Pow(2, float64(rng))
	return (math.Pi / 180.0) / countsPerDeg
}
