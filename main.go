// main.go
package main

import (
	"fmt"
	"os"

	"github.com/phuslu/log"

	"oscore/internal/config"
	"oscore/internal/logger"
)

var (
	version = "0.1.0"
)

func main() {
	// Load configuration from file and command line flags.
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// -generate-config ran and wrote an example file.
		os.Exit(0)
	}

	// Configure loggers before anything else logs.
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	monitor, err := NewMonitor(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize runtime monitor")
	}

	if err := monitor.Run(); err != nil {
		log.Fatal().Err(err).Msg("❌ Runtime monitor failed")
	}
}
