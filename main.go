package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"finsim/internal/config"
	"finsim/internal/db"
	"finsim/internal/logger"
	"finsim/internal/sim"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "JSON parameter file (defaults apply when empty)")
	steps := flag.Int("steps", 0, "override number of ticks")
	seed := flag.Int64("seed", 0, "override random seed")
	banks := flag.Int("banks", 0, "override bank count")
	dbPath := flag.String("db", "", "persist the run to this SQLite file")
	quiet := flag.Bool("quiet", false, "suppress informational output")
	flag.Parse()

	logger.SetQuiet(*quiet)
	logger.Banner(version)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Error("config", err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *banks > 0 {
		cfg.NBanks = *banks
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()
	simulation := sim.New(cfg)
	if err := simulation.Run(ctx); err != nil {
		logger.Error("sim", fmt.Sprintf("run aborted: %v", err))
		os.Exit(1)
	}
	simulation.Summary()

	if *dbPath != "" {
		sink, err := db.Open(*dbPath)
		if err != nil {
			logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
			os.Exit(1)
		}
		defer sink.Close()
		if _, err := simulation.Persist(ctx, sink); err != nil {
			logger.Error("DB", fmt.Sprintf("Failed to persist run: %v", err))
			os.Exit(1)
		}
	}

	if err := simulation.State().Flush(ctx); err != nil {
		logger.Warn("sim", fmt.Sprintf("fabric flush failed: %v", err))
	}
}
