// Copyright 2024-2026 Aiku AI

// Command guildbridge relays Minecraft guild chat into Matrix rooms. It
// classifies the gateway line feed into chat messages and lifecycle events,
// suppresses relay loops and duplicates, archives the traffic, and forwards
// it to the configured rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/guildbridge/pkg/archive"
	"github.com/aiku/guildbridge/pkg/bridge"
	"github.com/aiku/guildbridge/pkg/catalog"
	"github.com/aiku/guildbridge/pkg/classify"
	"github.com/aiku/guildbridge/pkg/command"
	"github.com/aiku/guildbridge/pkg/gateway"
	"github.com/aiku/guildbridge/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "guildbridge",
	Short: "Relay Minecraft guild chat into Matrix",
	Long: `guildbridge consumes decoded chat lines from one or more game gateways,
classifies them into chat messages and guild lifecycle events using
per-server pattern dialects, filters relay loops and duplicates, and
forwards the result into Matrix rooms.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("guildbridge %s (%s) built %s\n", Tag, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var checkPatternsCmd = &cobra.Command{
	Use:   "check-patterns [dir]",
	Short: "Validate pattern files and print per-dialect counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		cat := catalog.New(log)
		if len(args) > 0 {
			if err := cat.LoadDir(args[0]); err != nil {
				return err
			}
		}
		stats := cat.Stats()
		for _, dialect := range cat.Dialects() {
			st := stats[dialect]
			fmt.Printf("%s: %d rules", dialect, st.Rules)
			if st.Rejected > 0 {
				fmt.Printf(" (%d rejected)", st.Rejected)
			}
			fmt.Println()
		}
		for dialect, st := range stats {
			if st.Rejected > 0 {
				return fmt.Errorf("dialect %q has %d rejected rules", dialect, st.Rejected)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, checkPatternsCmd, versionCmd)
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func serve() error {
	log := newLogger()
	log.Info().Str("tag", Tag).Str("commit", Commit).Str("built", BuildTime).Msg("Starting guildbridge")

	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		return err
	}

	cat := catalog.New(log)
	if cfg.PatternDir != "" {
		if err := cat.LoadDir(cfg.PatternDir); err != nil {
			return err
		}
	}

	streams := bridge.NewStreams(log)
	events := classify.NewEventClassifier(cat, cfg.EventCooldown, log)
	chat := classify.NewChatClassifier(cat, log)
	coordinator := bridge.NewCoordinator(cfg, events, chat, streams, log)
	correlator := command.New(cat, streams, cfg.DialectFor, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	pool, err := gateway.NewPool(cfg.Gateways, coordinator, log)
	if err != nil {
		return err
	}
	for _, client := range pool.Clients() {
		group.Go(func() error { return client.Run(ctx) })
	}

	if len(cfg.Relay.Rooms) > 0 {
		r, err := relay.New(cfg.Relay, log)
		if err != nil {
			return err
		}
		group.Go(func() error { return r.Run(ctx, streams) })
	} else {
		log.Warn().Msg("No relay rooms configured, running classification only")
	}

	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path, log)
		if err != nil {
			return err
		}
		defer store.Close()
		group.Go(func() error { return store.Run(ctx, streams) })
	}

	if cfg.PatternDir != "" {
		group.Go(func() error { return cat.Watch(ctx, cfg.PatternDir) })
	}

	group.Go(func() error {
		events.RunSweeper(ctx, time.Minute)
		return ctx.Err()
	})
	group.Go(func() error {
		coordinator.RunSweeper(ctx, time.Minute)
		return ctx.Err()
	})

	admin := &bridge.AdminAPI{
		Catalog:    cat,
		PatternDir: cfg.PatternDir,
		Log:        log,
		Extra: map[string]http.HandlerFunc{
			"/api/commands/watch": command.WatchHandler(correlator, log),
		},
	}
	server := admin.Server(cfg.AdminAPIAddr)
	group.Go(func() error {
		log.Info().Str("addr", cfg.AdminAPIAddr).Msg("Admin API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Shutting down")
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
