package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sensor_collector/internal/config"
	"github.com/relabs-tech/sensor_collector/internal/status"
)

// RunConsoleMQTT prints every status event published by a collector.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	token := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev status.Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Println(formatEvent(ev))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatEvent(ev status.Event) string {
	text := strings.ReplaceAll(ev.Text, "\n", " | ")
	return fmt.Sprintf("[%s] %-10s %-14s records=%-6d session=%s  %s",
		ev.Time.Format("15:04:05"), ev.State, ev.Kind, ev.Records, ev.SessionID, text)
}
