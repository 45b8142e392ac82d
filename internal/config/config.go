package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Configuration system:
// - config.example.toml is auto-generated with the -generate-config flag
// - Use brief comments here for reference only

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Runtime backend configuration
	Runtime RuntimeConfig `toml:"runtime"`

	// Heap region configuration
	Heap HeapConfig `toml:"heap"`

	// Built-in workload configuration
	Workload WorkloadConfig `toml:"workload"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address (default: "localhost:9347")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Runtime state snapshot endpoint path (default: "/state")
	StatePath string `toml:"state_path"`

	// Enable pprof endpoint for debugging (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// RuntimeConfig contains execution backend settings
type RuntimeConfig struct {
	// Backend selects the scheduler model: "host" runs threads as
	// goroutines, "rtos" simulates a cooperative tick-driven scheduler
	// (default: "host")
	Backend string `toml:"backend"`

	// Left shift applied to the tick counter when forming clock values
	// on the rtos backend (default: 20, about 1.05ms per tick)
	TickShift int `toml:"tick_shift"`

	// Highest thread priority; 0 is lowest (default: 8)
	MaxPriority int `toml:"max_priority"`

	// Stack size in bytes for threads created without one (default: 2048)
	DefaultStackSize int `toml:"default_stack_size"`

	// Maximum live threads on the host backend, 0 = unlimited (default: 0)
	MaxUnits int `toml:"max_units"`

	// Pin each thread to its own OS thread on the host backend and name
	// it after the thread (default: false)
	DedicateOSThread bool `toml:"dedicate_os_thread"`

	// Maintenance pass cadence on the host backend in milliseconds
	// (default: 250)
	IdleIntervalMS int `toml:"idle_interval_ms"`

	// Registry sweep cadence in milliseconds (default: 1000)
	SweepIntervalMS int `toml:"sweep_interval_ms"`
}

// HeapConfig contains heap region settings
type HeapConfig struct {
	// Primary region size in bytes (default: 1048576)
	PrimarySize int `toml:"primary_size"`

	// Secondary overflow region size in bytes, 0 disables it
	// (default: 262144)
	SecondarySize int `toml:"secondary_size"`

	// Carve thread stacks out of the heap regions on the rtos backend
	// (default: true)
	StacksFromHeap bool `toml:"stacks_from_heap"`
}

// WorkloadConfig contains settings for the built-in self-exercising workload
type WorkloadConfig struct {
	// Enable the workload (default: true). When disabled the process only
	// serves metrics for externally driven activity.
	Enabled bool `toml:"enabled"`

	// Number of long-lived worker threads (default: 4)
	Workers int `toml:"workers"`

	// Cadence of worker activity and short-lived thread churn in
	// milliseconds (default: 500)
	ChurnIntervalMS int `toml:"churn_interval_ms"`

	// Bytes each worker takes from the heap at startup (default: 256)
	AllocBytes int `toml:"alloc_bytes"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog"
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	// Configuration specific to the output type
	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
	Syslog  *SyslogConfig  `toml:"syslog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "oscore")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9347",
			MetricsPath:   "/metrics",
			StatePath:     "/state",
			PprofEnabled:  true,
		},
		Runtime: RuntimeConfig{
			Backend:          "host",
			TickShift:        20,
			MaxPriority:      8,
			DefaultStackSize: 2048,
			MaxUnits:         0, // unlimited
			DedicateOSThread: false,
			IdleIntervalMS:   250,
			SweepIntervalMS:  1000,
		},
		Heap: HeapConfig{
			PrimarySize:    1 << 20, // 1MB
			SecondarySize:  256 << 10,
			StacksFromHeap: true,
		},
		Workload: WorkloadConfig{
			Enabled:         true,
			Workers:         4,
			ChurnIntervalMS: 500,
			AllocBytes:      256,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/app.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "oscore",
						Hostname: "", // Uses system hostname by default
						Marker:   "@cee:",
						Async:    true, // Syslog is typically asynchronous
					},
				},
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If no config file specified or doesn't exist, use defaults
	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Create file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	// Encode to TOML
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	// Write header comments
	header := `# oscore Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy this file to create your own configuration and modify as needed.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Create default config and encode to TOML
	config := DefaultConfig()
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	// Validate server config
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Server.MetricsPath == "" {
		return fmt.Errorf("server.metrics_path cannot be empty")
	}

	// Validate runtime config
	switch c.Runtime.Backend {
	case "host", "rtos":
	default:
		return fmt.Errorf("runtime.backend must be \"host\" or \"rtos\", got %q", c.Runtime.Backend)
	}
	if c.Runtime.TickShift < 0 || c.Runtime.TickShift > 31 {
		return fmt.Errorf("runtime.tick_shift must be between 0 and 31, got %d", c.Runtime.TickShift)
	}
	if c.Runtime.MaxPriority < 1 {
		return fmt.Errorf("runtime.max_priority must be at least 1, got %d", c.Runtime.MaxPriority)
	}
	if c.Runtime.DefaultStackSize < 1 {
		return fmt.Errorf("runtime.default_stack_size must be positive, got %d", c.Runtime.DefaultStackSize)
	}
	if c.Runtime.MaxUnits < 0 {
		return fmt.Errorf("runtime.max_units cannot be negative, got %d", c.Runtime.MaxUnits)
	}

	// Validate heap config
	if c.Heap.PrimarySize < 1 {
		return fmt.Errorf("heap.primary_size must be positive, got %d", c.Heap.PrimarySize)
	}
	if c.Heap.SecondarySize < 0 {
		return fmt.Errorf("heap.secondary_size cannot be negative, got %d", c.Heap.SecondarySize)
	}
	if c.Heap.StacksFromHeap && c.Runtime.Backend == "rtos" {
		// Every stack comes out of the primary region; the default stack
		// must at least fit.
		if c.Runtime.DefaultStackSize > c.Heap.PrimarySize {
			return fmt.Errorf("runtime.default_stack_size (%d) exceeds heap.primary_size (%d)",
				c.Runtime.DefaultStackSize, c.Heap.PrimarySize)
		}
	}

	// Validate workload config
	if c.Workload.Enabled {
		if c.Workload.Workers < 0 {
			return fmt.Errorf("workload.workers cannot be negative, got %d", c.Workload.Workers)
		}
		if c.Workload.AllocBytes < 0 {
			return fmt.Errorf("workload.alloc_bytes cannot be negative, got %d", c.Workload.AllocBytes)
		}
	}

	// Validate that at least one output is enabled
	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress  string
	MetricsPath    string
	Backend        string
	ConfigPath     string
	GenerateConfig string
}

// NewConfig creates a new configuration by parsing flags and loading the config file.
func NewConfig() (*AppConfig, error) {
	flags := &Flags{}

	// Define flags and bind them to the Flags struct
	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		":9347",
		"Address to listen on for web interface and telemetry.")
	flag.StringVar(&flags.MetricsPath,
		"web.telemetry-path",
		"/metrics",
		"Path under which to expose metrics.")
	flag.StringVar(&flags.Backend,
		"runtime.backend",
		"host",
		"Execution backend: host or rtos.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.Parse()

	// Handle config generation and exit.
	// We return a special error to signal that the program should exit cleanly.
	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil // Signal clean exit
	}

	// Start with default config
	config := DefaultConfig()

	// Load configuration from file if a path is provided
	if flags.ConfigPath != "" {
		var err error
		config, err = LoadConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	// Override config with command-line flags if they were set by the user
	if isFlagPassed("web.listen-address") {
		config.Server.ListenAddress = flags.ListenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		config.Server.MetricsPath = flags.MetricsPath
	}
	if isFlagPassed("runtime.backend") {
		config.Runtime.Backend = flags.Backend
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
