package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/maci-core/config"
)

const (
	defaultOutput    = "bundles"
	defaultFormat    = formatJSON
	defaultMergeOps  = 0
	defaultLogLevel  = "info"
	defaultLogOutput = "stderr"

	formatJSON = "json"
	formatCBOR = "cbor"
)

// Config holds the application configuration
type Config struct {
	Input   string `mapstructure:"input"`
	Output  string `mapstructure:"output"`
	Format  string `mapstructure:"format"`
	Circuit string `mapstructure:"circuit"`
	Merge   MergeConfig
	Log     LogConfig
}

// MergeConfig bounds the work of every merge step.
type MergeConfig struct {
	// Ops is the number of sub-roots merged per step, 0 merges them all at
	// once.
	Ops int `mapstructure:"ops"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig(args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("output", defaultOutput)
	v.SetDefault("format", defaultFormat)
	v.SetDefault("circuit", config.DefaultCircuit)
	v.SetDefault("merge.ops", defaultMergeOps)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)

	flags := flag.NewFlagSet("maci-processor", flag.ContinueOnError)
	flags.StringP("input", "i", "", "ledger log to replay, in JSON (required)")
	flags.StringP("output", "d", defaultOutput, "directory the batch bundles are written to")
	flags.StringP("format", "f", defaultFormat, "bundle encoding (json, cbor)")
	flags.StringP("circuit", "c", config.DefaultCircuit, fmt.Sprintf("circuit parameters %v", config.AvailableCircuits()))
	flags.Int("merge.ops", defaultMergeOps, "sub-roots merged per merge step, 0 for all")
	flags.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "maci-processor %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: maci-processor --input=ledger.json [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Replays the messages of a poll and writes the inputs of every\n")
		fmt.Fprintf(os.Stderr, "message processing batch, newest batch first.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, MACI_INPUT or MACI_LOG_LEVEL\n")
	}

	flags.SortFlags = false
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("MACI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Input == "" {
		return fmt.Errorf("ledger log is required (use --input flag or MACI_INPUT environment variable)")
	}
	if !slices.Contains([]string{formatJSON, formatCBOR}, cfg.Format) {
		return fmt.Errorf("invalid format %s, available formats: %s, %s", cfg.Format, formatJSON, formatCBOR)
	}
	if _, err := config.Circuit(cfg.Circuit); err != nil {
		return err
	}
	if cfg.Merge.Ops < 0 {
		return fmt.Errorf("merge.ops must not be negative")
	}
	return nil
}
