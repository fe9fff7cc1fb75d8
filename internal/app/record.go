package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/config"
	"github.com/relabs-tech/sensor_collector/internal/session"
	"github.com/relabs-tech/sensor_collector/internal/status"
)

// RecordOptions describes one headless session.
type RecordOptions struct {
	Sensors      []string // empty selects every offered sensor
	SubjectID    string
	ExperimentID string
	Server       string        // defaults to SERVER_ADDRESS
	Duration     time.Duration // 0 records until SIGINT/SIGTERM
}

// ErrUploadFailed is returned by RunRecord when the batch did not reach the
// backend.
var ErrUploadFailed = errors.New("upload failed")

// RunRecord runs a single session without the web UI.
func RunRecord(opts RecordOptions) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	ctrl, _, cleanup, err := newController(ctx, cfg, src, status.LogSink{})
	if err != nil {
		return err
	}
	defer cleanup()

	server := opts.Server
	if server == "" {
		server = cfg.ServerAddress
	}
	return record(ctx, ctrl, opts, server)
}

func record(ctx context.Context, ctrl *session.Controller, opts RecordOptions, server string) error {
	names := opts.Sensors
	if len(names) == 0 {
		for _, s := range ctrl.Sensors() {
			names = append(names, s.Name)
		}
	}
	for _, name := range names {
		if err := ctrl.SelectSensor(name); err != nil {
			return err
		}
	}
	if len(ctrl.Selection()) == 0 {
		log.Println("record: WARNING: no sensor selected, the session will be empty")
	}

	if err := ctrl.Start(opts.SubjectID, opts.ExperimentID); err != nil {
		return err
	}

	var timer <-chan time.Time
	if opts.Duration > 0 {
		t := time.NewTimer(opts.Duration)
		defer t.Stop()
		timer = t.C
		log.Printf("record: collecting for %s", opts.Duration)
	} else {
		log.Println("record: collecting until interrupted")
	}

	select {
	case <-timer:
	case <-ctx.Done():
	}

	done, err := ctrl.Stop(server)
	if err != nil {
		return err
	}
	out, ok := <-done
	if !ok {
		log.Println("record: no data collected")
		return nil
	}
	if out.PersistErr != nil {
		log.Printf("record: local copy not saved: %v", out.PersistErr)
	}
	if !out.Upload.OK {
		return fmt.Errorf("%w: %s", ErrUploadFailed, out.Upload.Status())
	}
	log.Printf("record: %d records uploaded to %s", out.Records, out.Upload.URL)
	return nil
}
