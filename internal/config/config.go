// Package config holds the daemon's configuration: an optional YAML file
// layered under command-line flags, flags winning where both are set.
package config

import (
	"flag"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Defaults.
const (
	DefaultListenAddr   = "127.0.0.1:8214"
	DefaultMetricsAddr  = "127.0.0.1:8215"
	DefaultBaseChainURL = "http://127.0.0.1:8114"
	DefaultDataDir      = "polyjuice-data"
)

// Config is everything the daemon needs to start.
type Config struct {
	// DataDir is the KV store directory. Empty means an in-memory store
	// (local development against the in-process chain).
	DataDir string `yaml:"datadir"`

	// ListenAddr is the JSON-RPC listen address.
	ListenAddr string `yaml:"listen"`

	// BaseChainURL is the base chain node's RPC endpoint. The value
	// "memory" selects the in-process chain instead of an HTTP client.
	BaseChainURL string `yaml:"basechain"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"loglevel"`

	// LogFile, when set, adds a size-rotated file sink next to stderr.
	LogFile string `yaml:"logfile"`

	// Metrics enables the Prometheus endpoint on MetricsAddr.
	Metrics     bool   `yaml:"metrics"`
	MetricsAddr string `yaml:"metrics_listen"`
}

// Load parses args into a Config. A --config YAML file, if given, is
// loaded first; every flag explicitly present in args then overrides the
// file's value.
func Load(name string, args []string) (*Config, error) {
	cfg := &Config{
		DataDir:      DefaultDataDir,
		ListenAddr:   DefaultListenAddr,
		BaseChainURL: DefaultBaseChainURL,
		LogLevel:     "info",
		MetricsAddr:  DefaultMetricsAddr,
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "KV store directory (empty = in-memory)")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "JSON-RPC listen address")
	fs.StringVar(&cfg.BaseChainURL, "basechain", cfg.BaseChainURL, "base chain RPC endpoint (\"memory\" = in-process chain)")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "logfile", cfg.LogFile, "rotated log file path (empty = stderr only)")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "enable the Prometheus /metrics endpoint")
	fs.StringVar(&cfg.MetricsAddr, "metrics.listen", cfg.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		fileCfg := *cfg
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		*cfg = fileCfg
		// Flags present on the command line win over the file.
		reapply := flag.NewFlagSet(name, flag.ContinueOnError)
		reapply.String("config", "", "")
		reapply.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "")
		reapply.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "")
		reapply.StringVar(&cfg.BaseChainURL, "basechain", cfg.BaseChainURL, "")
		reapply.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "")
		reapply.StringVar(&cfg.LogFile, "logfile", cfg.LogFile, "")
		reapply.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "")
		reapply.StringVar(&cfg.MetricsAddr, "metrics.listen", cfg.MetricsAddr, "")
		if err := reapply.Parse(args); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.BaseChainURL == "" {
		return fmt.Errorf("base chain endpoint must not be empty")
	}
	return nil
}
