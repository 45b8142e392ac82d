// oscore.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // For pprof server
	"os"
	"os/signal"
	"syscall"
	"time"

	plog "github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"

	"oscore/internal/collectors/corestate"
	"oscore/internal/config"
	"oscore/internal/core"
	"oscore/internal/logger"
)

// Monitor encapsulates the core components of the application: the runtime
// core itself, the workload that exercises it, and the HTTP surface serving
// metrics and the state snapshot.
type Monitor struct {
	config     *config.AppConfig
	core       *core.Core
	workload   *Workload
	httpServer *http.Server
	watcher    *config.Watcher
	log        plog.Logger
}

// NewMonitor creates and initializes a new Monitor instance.
func NewMonitor(cfg *config.AppConfig) (*Monitor, error) {
	m := &Monitor{
		config: cfg,
	}

	m.log = plog.DefaultLogger // main app uses default logger
	m.log.Info().
		Str("version", version).
		Str("backend", cfg.Runtime.Backend).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Msg("Starting oscore runtime monitor")

	if err := m.setupCore(); err != nil {
		return nil, err
	}
	m.setupWorkload()
	m.setupHTTPServer()

	// Register the runtime state collector
	statsCollector := corestate.NewCoreCollector(m.core)
	prometheus.MustRegister(statsCollector)
	m.log.Info().Msg("Core state collector enabled and registered with Prometheus")

	return m, nil
}

// setupCore assembles the runtime core from the configured backend and heap
// geometry.
func (m *Monitor) setupCore() error {
	m.log.Debug().Msg("- Runtime core assembly started")
	c, err := core.New(m.config.Runtime, m.config.Heap, core.Hooks{})
	if err != nil {
		return fmt.Errorf("failed to assemble runtime core: %w", err)
	}
	m.core = c
	m.log.Debug().Msg("- Runtime core assembled")
	return nil
}

func (m *Monitor) setupWorkload() {
	m.workload = NewWorkload(m.config.Workload, m.core)
	m.log.Debug().
		Bool("enabled", m.config.Workload.Enabled).
		Int("workers", m.config.Workload.Workers).
		Msg("- Workload created")
}

// setupHTTPServer configures the HTTP server for metrics, the state
// snapshot and pprof.
func (m *Monitor) setupHTTPServer() {
	m.log.Debug().Str("metrics_path", m.config.Server.MetricsPath).Msg("Setting up HTTP handlers")
	mux := http.NewServeMux()
	mux.Handle(m.config.Server.MetricsPath, promhttp.Handler())
	mux.HandleFunc(m.config.Server.StatePath, m.handleState)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>
            <head><title>oscore</title></head>
            <body>
            <h1>oscore runtime monitor v` + version + ` </h1>
            <p><a href="` + m.config.Server.MetricsPath + `">Metrics</a></p>
            <p><a href="` + m.config.Server.StatePath + `">Runtime state</a></p>
            </body>
            </html>`))
	})

	m.httpServer = &http.Server{
		Addr:    m.config.Server.ListenAddress,
		Handler: mux,
	}
}

// handleState serves the core's diagnostic snapshot as JSON.
func (m *Monitor) handleState(w http.ResponseWriter, r *http.Request) {
	body, err := sonnet.Marshal(m.core.Snapshot())
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to encode state snapshot")
		http.Error(w, "snapshot encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// setupConfigWatcher starts live reload when a config file path was given on
// the command line. Only the log level is applied on the fly; everything
// else needs a restart.
func (m *Monitor) setupConfigWatcher() {
	f := flag.Lookup("config")
	if f == nil || f.Value.String() == "" {
		return
	}

	watcher, err := config.WatchConfig(f.Value.String(), func(c *config.AppConfig) {
		logger.ApplyLevel(c.Logging.Defaults.Level)
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("Config watcher unavailable, live reload disabled")
		return
	}
	m.watcher = watcher
}

// Run starts all services and waits for a shutdown signal.
func (m *Monitor) Run() error {
	// Create a context that we can stop to trigger a graceful shutdown.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Listen for OS signals in a separate goroutine.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		m.log.Info().Msg("! Received OS shutdown signal, shutting down gracefully...")
		stop()
	}()

	if m.config.Server.PprofEnabled {
		go func() {
			// Recover from panics in this goroutine to trigger a graceful shutdown.
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Interface("panic", r).Msg("Panic recovered in pprof server, initiating shutdown")
					stop()
				}
			}()
			m.log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			// pprof registers its handlers on http.DefaultServeMux
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				m.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	m.setupConfigWatcher()

	m.log.Info().Msg("Booting runtime core...")
	if err := m.core.Boot(m.workload.Main); err != nil {
		return fmt.Errorf("failed to boot runtime core: %w", err)
	}
	m.log.Info().Msg("Runtime core booted successfully")

	go func() {
		// Recover from panics in this goroutine to trigger a graceful shutdown.
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Msg("Panic recovered in HTTP server, initiating shutdown")
				stop()
			}
		}()
		m.log.Info().Str("address", m.config.Server.ListenAddress).Msg("Starting HTTP server")
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Msg("❌ Failed to start HTTP server")
			stop() // Trigger shutdown on server error
		}
	}()

	m.log.Info().Msg("oscore runtime monitor is ready...")

	// Block until a shutdown is triggered (from OS signal, panic, or other error).
	<-ctx.Done()
	m.log.Info().Msg("! Shutdown initiated...")

	// --- Graceful shutdown sequence ---

	httpCtx, cancelhttp := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelhttp()

	if err := m.httpServer.Shutdown(httpCtx); err != nil {
		m.log.Error().Err(err).Msg("❌ Error shutting down HTTP server")
	} else {
		m.log.Debug().Msg("HTTP server shut down cleanly")
	}

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.log.Error().Err(err).Msg("Error stopping config watcher")
		}
	}

	// Stop the workload first so nothing creates threads while the core's
	// own loops wind down.
	m.workload.Stop()
	m.core.Shutdown()

	m.log.Info().Msg("oscore runtime monitor stopped gracefully")
	return nil
}
