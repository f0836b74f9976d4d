package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/convoflow/convosync/internal/config"
)

var (
	flagConfig   string
	flagDataDir  string
	flagState    string
	flagLogLevel string
	flagLogFile  string
	flagVerbose  bool

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "convosync",
	Short: "Sync analyzed conversation exports into a Notion database",
	Long: `convosync reads conversation-analysis JSON exports from a data
directory, validates them against the insights schema, and upserts each
conversation into a Notion database keyed by its conversation id. Records
can also be forwarded to the Poke insights API.

Running convosync with no subcommand is the same as "convosync sync".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	pf.StringVar(&flagDataDir, "data-dir", "", "directory holding conversation JSON exports")
	pf.StringVar(&flagState, "state", "", "state backend DSN (file://, memory://, postgres://)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogFile, "log-file", "", "write logs to this file instead of stderr")
	pf.BoolVar(&flagVerbose, "verbose", false, "shorthand for --log-level debug")
}

// setup builds the effective config (defaults, file, env, flags) and the
// process logger. Every subcommand runs through here first.
func setup() error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	cfg = loaded
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagState != "" {
		cfg.StateDSN = flagState
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFile != "" {
		cfg.Logging.File = flagLogFile
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger = buildLogger(cfg.Logging)
	return nil
}

func buildLogger(lc config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(lc.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if strings.TrimSpace(lc.File) != "" {
		out = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second / 10).String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
