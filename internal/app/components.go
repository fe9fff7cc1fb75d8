package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/archive"
	"github.com/relabs-tech/sensor_collector/internal/config"
	"github.com/relabs-tech/sensor_collector/internal/sensors"
	"github.com/relabs-tech/sensor_collector/internal/session"
	"github.com/relabs-tech/sensor_collector/internal/status"
	"github.com/relabs-tech/sensor_collector/internal/storage"
	"github.com/relabs-tech/sensor_collector/internal/upload"
)

// closableSource is what newSource hands out.
type closableSource interface {
	sensors.Source
	Close() error
}

// newSource opens the configured sensor source and applies the allow-list.
func newSource(cfg *config.Config) (sensors.Source, func() error, error) {
	var src closableSource
	switch cfg.SensorSource {
	case "hardware":
		hw, err := sensors.NewHardwareSource(sensors.HardwareOptions{
			IMUSPIDevice:  cfg.IMUSPIDevice,
			IMUCSPin:      cfg.IMUCSPin,
			AccelRange:    cfg.IMUAccelRange,
			GyroRange:     cfg.IMUGyroRange,
			BMPSPIDevice:  cfg.BMPSPIDevice,
			GPSSerialPort: cfg.GPSSerialPort,
			GPSBaudRate:   cfg.GPSBaudRate,
		})
		if err != nil {
			return nil, nil, err
		}
		src = hw
	case "mock", "":
		src = sensors.NewMockSource()
	default:
		return nil, nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}

	restricted := sensors.Restrict(src, cfg.SensorAllowlist)
	log.Printf("app: %s sensor source offers %d sensors", cfg.SensorSource, len(restricted.Sensors()))
	return restricted, src.Close, nil
}

// newController builds the controller with the persister, uploader and
// optional Redis archive from config. The archive is nil when disabled.
// The returned cleanup closes what was opened here; the source is closed by
// the caller.
func newController(ctx context.Context, cfg *config.Config, src sensors.Source, sink status.Sink) (*session.Controller, *archive.Redis, func(), error) {
	naming, err := storage.ParseNaming(cfg.OutputNaming)
	if err != nil {
		return nil, nil, nil, err
	}
	mode, err := upload.ParseMode(cfg.UploadMode)
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := time.Duration(cfg.UploadTimeoutMS) * time.Millisecond

	uploader := upload.New(upload.Options{
		Mode:     mode,
		User:     cfg.UploadUser,
		Password: cfg.UploadPassword,
		Timeout:  timeout,
	})

	opts := session.Options{
		Sink:          sink,
		Device:        cfg.DeviceName,
		UploadTimeout: timeout,
	}
	cleanup := func() {}

	var rdb *archive.Redis
	if cfg.RedisAddr != "" {
		rdb, err = archive.NewRedis(ctx, archive.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      time.Duration(cfg.RedisTTLS) * time.Second,
		})
		if err != nil {
			log.Printf("app: WARNING: Redis archive disabled: %v", err)
			rdb = nil
		} else {
			opts.Archiver = rdb
			cleanup = func() { rdb.Close() }
		}
	}

	ctrl := session.New(src, storage.NewWriter(cfg.OutputDir, naming), uploader, opts)
	log.Printf("app: upload mode %s, saving to %s", mode, cfg.OutputDir)
	return ctrl, rdb, cleanup, nil
}
