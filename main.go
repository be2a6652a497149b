package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/medleyhq/medley/internal"
	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program; it loads the user's Medley
// configuration and runs the server until interrupted.
func main() {
	configPath := flag.String("config", "medley.yaml", "path to the YAML configuration file")
	flag.Parse()

	config := internal.MedleyConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Fatalf("Medley has exited abnormally: %v\n", err)
	}
}
