// Command maci-processor replays an exported poll and writes the inputs of
// the message processing circuit for every batch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vocdoni/maci-core/log"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting maci-processor", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ledger, err := readLedger(cfg.Input)
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := run(ctx, cfg, ledger)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	log.Infow("replay finished",
		"batches", len(summary.Batches),
		"accepted", summary.NumAccepted,
		"rejected", summary.NumRejected,
		"stateRoot", summary.StateRoot.String(),
		"ballotRoot", summary.BallotRoot.String(),
		"output", cfg.Output)
}
