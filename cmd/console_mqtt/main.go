package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/sensor_collector/internal/app"
	"github.com/relabs-tech/sensor_collector/internal/config"
)

func main() {
	configPath := flag.String("config", "collector_config.txt", "path to the config file")
	flag.Parse()

	log.Println("starting sensor-collector console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
