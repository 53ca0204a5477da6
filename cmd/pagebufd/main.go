package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/riftfs/pagebuffer/internal/config"
	"github.com/riftfs/pagebuffer/internal/logging"
	"github.com/riftfs/pagebuffer/pkg/region"
)

var (
	capacity    int
	lowWater    int
	highWater   int
	backingFile string
	logLevel    string
)

func parseFlags() {
	flag.IntVar(&capacity, "capacity", 0, "Resident page capacity (0 uses PAGEBUFFER_CAPACITY env or its default)")
	flag.IntVar(&lowWater, "low-water", 0, "Low-water percentage (0 uses env default)")
	flag.IntVar(&highWater, "high-water", 0, "High-water percentage (0 uses env default)")
	flag.StringVar(&backingFile, "backing-file", "", "Path to the local backing file (empty uses env default)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (empty uses env default)")

	flag.Parse()
}

func main() {
	parseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if capacity != 0 {
		cfg.Capacity = capacity
	}
	if lowWater != 0 {
		cfg.LowWaterPercentage = lowWater
	}
	if highWater != 0 {
		cfg.HighWaterPercentage = highWater
	}
	if backingFile != "" {
		cfg.BackingFilePath = backingFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	r, err := region.Open(cfg, log)
	if err != nil {
		log.Fatal("failed to open region", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("region opened", zap.String("stats", r.Render()))

	if err := r.Run(ctx); err != nil {
		log.Error("region worker pools stopped with error", zap.Error(err))
	}
}
