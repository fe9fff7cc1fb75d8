package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/api"
	"github.com/relabs-tech/sensor_collector/internal/config"
	"github.com/relabs-tech/sensor_collector/internal/status"
)

// RunWeb serves the control API, the status websocket and the static UI
// until SIGINT/SIGTERM.
func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) Sensor source
	src, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	// 2) Status sinks: log, websocket hub, MQTT and the OLED when configured
	hub := status.NewHub()
	sinks := status.NewMulti(status.LogSink{}, hub)

	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
		if err != nil {
			log.Printf("web: WARNING: MQTT status disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			sinks.Add(NewMQTTStatusSink(client, cfg.TopicStatus))
			log.Printf("web: publishing status to %s", cfg.TopicStatus)
		}
	}

	if cfg.DisplayI2CAddr != 0 {
		display, err := OpenDisplay(cfg.DisplayI2CAddr)
		if err != nil {
			log.Printf("web: WARNING: display disabled: %v", err)
		} else {
			defer display.Close()
			sinks.Add(display)
		}
	}

	// 3) Session controller
	ctrl, rdb, cleanup, err := newController(ctx, cfg, src, sinks)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4) HTTP server
	apiServer := &api.Server{
		Controller:    ctrl,
		DefaultServer: cfg.ServerAddress,
		WS:            http.HandlerFunc(hub.ServeWS),
		StaticDir:     "web",
	}
	if rdb != nil {
		apiServer.Archive = rdb
	}
	router := api.NewRouter(apiServer)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		log.Printf("web: server stopped: %v", serveErr)
	case <-ctx.Done():
		log.Println("web: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web: shutdown: %v", err)
		}
	}

	// A session still running is stopped so its data is saved and uploaded
	// before the sinks are closed.
	if done, err := ctrl.Stop(cfg.ServerAddress); err == nil {
		<-done
	}
	ctrl.Wait()
	return serveErr
}
