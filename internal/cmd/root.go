package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
)

type runtimeOptions struct {
	ConfigPath      string
	Debug           bool
	DangerousInline bool
	WindowSize      int
	Token           string

	cfg config.Config
	log zerolog.Logger
}

var rootOpts runtimeOptions

func NewRootCmd(buildVersion, buildDate string) *cobra.Command {
	showVersion := false

	cmd := &cobra.Command{
		Use:           "multiarch-mirror",
		Short:         "Mirror upstream applications as multi-arch container images",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprint(cmd.OutOrStdout(), formatVersion(buildVersion, buildDate))
				return nil
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&rootOpts.ConfigPath, "config", "f", "", "Path to YAML config file")
	cmd.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&rootOpts.DangerousInline, "dangerous-inline", false, "Skip write confirmation prompts and perform writes inline")
	cmd.PersistentFlags().IntVar(&rootOpts.WindowSize, "window-size", 0, "Override the tracked version window size")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print CLI version")

	cmd.AddCommand(newVersionCmd(buildVersion, buildDate))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newExpandCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAttestCmd())

	return cmd
}

// mergedOptions resolves the effective configuration with the precedence
// flags > environment variables > config file > defaults.
func mergedOptions(cmd *cobra.Command) (runtimeOptions, error) {
	merged := rootOpts

	if value, ok := getenvTrim("MIRROR_CONFIG"); ok && !cmd.Flags().Changed("config") {
		merged.ConfigPath = value
	}

	cfg, err := config.Load(merged.ConfigPath)
	if err != nil {
		return runtimeOptions{}, err
	}

	if err := applyEnvOverrides(&merged, &cfg); err != nil {
		return runtimeOptions{}, err
	}

	if cmd.Flags().Changed("window-size") {
		cfg.WindowSize = merged.WindowSize
	}
	if cfg.WindowSize < 1 {
		return runtimeOptions{}, fmt.Errorf("window size must be positive, got %d", cfg.WindowSize)
	}

	merged.cfg = cfg
	merged.log = newLogger(merged.Debug)

	return merged, nil
}

func applyEnvOverrides(opts *runtimeOptions, cfg *config.Config) error {
	if value, ok := getenvTrim("MIRROR_UPSTREAM_API"); ok {
		cfg.UpstreamAPI = value
	}
	if value, ok := getenvTrim("MIRROR_WINDOW_SIZE"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse MIRROR_WINDOW_SIZE as int: %w", err)
		}
		cfg.WindowSize = parsed
	}
	if value, ok := getenvTrim("MIRROR_DEBUG"); ok {
		parsed, err := parseBoolEnv("MIRROR_DEBUG", value)
		if err != nil {
			return err
		}
		opts.Debug = parsed
	}

	// Bearer credential for the upstream release API; GITHUB_TOKEN is the
	// name CI exports.
	if value, ok := getenvTrim("MIRROR_GITHUB_TOKEN"); ok {
		opts.Token = value
	} else if value, ok := getenvTrim("GITHUB_TOKEN"); ok {
		opts.Token = value
	}

	return nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func getenvTrim(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func parseBoolEnv(name, raw string) (bool, error) {
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s as bool: %w", name, err)
	}
	return parsed, nil
}
