package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoflow/convosync/internal/config"
	"github.com/convoflow/convosync/internal/daemon"
	"github.com/convoflow/convosync/internal/httpapi"
	"github.com/convoflow/convosync/internal/syncer"
)

var (
	flagInterval time.Duration
	flagDebounce time.Duration
	flagListen   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the data directory and sync continuously",
	Long: `Run convosync as a daemon: sync once at startup, again whenever
new conversation exports appear in the data directory, and on a jittered
periodic interval. A status server exposes health, run history, Prometheus
metrics and a websocket live feed; set --listen "" to disable it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWatch(cmd)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagInterval, "interval", 5*time.Minute, "periodic full resync interval")
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 2*time.Second, "quiet window after file events before syncing")
	watchCmd.Flags().StringVar(&flagListen, "listen", "", "status server address (default from config, empty disables)")
	watchCmd.Flags().BoolVarP(&flagValidateFirst, "validate", "v", false, "validate records against the insights schema on every pass")
	watchCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "resync conversations even if already synced")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command) error {
	if err := cfg.ValidateNotion(); err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		cfg.Watch.Interval = config.Duration(flagInterval)
	}
	if cmd.Flags().Changed("debounce") {
		cfg.Watch.Debounce = config.Duration(flagDebounce)
	}
	listen := cfg.Server.Listen
	if cmd.Flags().Changed("listen") {
		listen = flagListen
	}

	hist, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(hist)

	pipe, err := buildPipeline(hist)
	if err != nil {
		return err
	}

	var server *httpapi.Server
	if listen != "" {
		server = httpapi.NewServerWithConfig(hist, httpapi.ServerConfig{
			Listen: listen,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn().Err(err).Msg("status server shutdown failed")
			}
		}()
		logger.Info().Str("addr", server.Addr()).Msg("status server listening")
	}

	run := func(ctx context.Context) (syncer.RunSummary, error) {
		return pipe.Run(ctx, syncer.RunOptions{
			ValidateFirst: flagValidateFirst,
			Force:         flagForce,
		})
	}
	watcher, err := daemon.New(run, daemon.Config{
		DataDir:  cfg.DataDir,
		Interval: cfg.Watch.Interval.Duration(),
		Debounce: cfg.Watch.Debounce.Duration(),
		Status:   server,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watcher.Run(ctx)
}
