// stand-collector runs next to the test stand. It polls the microcontroller
// over serial and ships telemetry batches to the control service.
//
// Configuration comes from the environment: EXPERIMENT_ID (required),
// SERVER_BASE_URL, SERIAL_PORT, BAUD_RATE, POLL_HZ, BATCH_SIZE.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/b0gdan00/Aspirantura-research/internal/collector"
)

func main() {
	cfg, err := collector.ConfigFromEnv()
	if err != nil {
		log.Fatalf("stand-collector: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("stand-collector: experiment %d via %s", cfg.ExperimentID, cfg.ServerBaseURL)
	if err := collector.New(cfg).Run(ctx); err != nil {
		log.Fatalf("stand-collector: %v", err)
	}
}
