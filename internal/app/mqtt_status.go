package app

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sensor_collector/internal/status"
)

// mqttPublisher is the part of mqtt.Client the status sink needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTStatusSink publishes every status event, retained, so a console that
// connects late still sees the last one.
type MQTTStatusSink struct {
	client mqttPublisher
	topic  string
}

func NewMQTTStatusSink(client mqttPublisher, topic string) *MQTTStatusSink {
	return &MQTTStatusSink{client: client, topic: topic}
}

// Publish never blocks on the broker; delivery errors are logged from a
// separate goroutine.
func (s *MQTTStatusSink) Publish(ev status.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("mqtt: status marshal error: %v", err)
		return
	}
	token := s.client.Publish(s.topic, 0, true, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: publish to %s timed out", s.topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish to %s failed: %v", s.topic, err)
		}
	}()
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("mqtt: connected to MQTT broker at %s", broker)
	return client, nil
}
