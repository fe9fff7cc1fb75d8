// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"strings"

	"github.com/relabs-tech/sensor_collector/internal/app"
	"github.com/relabs-tech/sensor_collector/internal/config"
)

func main() {
	configPath := flag.String("config", "collector_config.txt", "path to the config file")
	sensorList := flag.String("sensors", "", "comma-separated sensor names (default: every offered sensor)")
	subject := flag.String("subject", "", "subject id (blank becomes 0)")
	experiment := flag.String("experiment", "", "experiment id (blank becomes 0)")
	server := flag.String("server", "", "upload server host:port (default: SERVER_ADDRESS)")
	duration := flag.Duration("duration", 0, "how long to record (0 = until Ctrl+C)")
	flag.Parse()

	log.Println("starting sensor-collector headless recording")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var names []string
	for _, name := range strings.Split(*sensorList, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	err := app.RunRecord(app.RecordOptions{
		Sensors:      names,
		SubjectID:    *subject,
		ExperimentID: *experiment,
		Server:       *server,
		Duration:     *duration,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
