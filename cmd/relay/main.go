package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/znsio/pubsub-relay-go/internal/api"
	"github.com/znsio/pubsub-relay-go/internal/config"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/logger"
	"github.com/znsio/pubsub-relay-go/internal/relay"
)

func main() {
	var (
		configDir   string
		configFiles []string
	)

	rootCmd := &cobra.Command{
		Use:           "pubsub-relay",
		Short:         "Relay events between Google Cloud Pub/Sub and Kafka",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configDir, configFiles)
		},
	}
	rootCmd.Flags().StringVar(&configDir, "config-dir", ".", "directory containing config.yaml")
	rootCmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "config file or glob, may be repeated; replaces --config-dir")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatalf("pubsub-relay: %v", err)
	}
}

func run(ctx context.Context, configDir string, configFiles []string) error {
	// A .env file is optional.
	_ = godotenv.Load()

	load := func() error { return config.LoadConfig(configDir) }
	if len(configFiles) > 0 {
		load = func() error { return config.LoadConfigFiles(configFiles) }
	}
	if err := load(); err != nil {
		return err
	}
	cfg := config.GetConfig()
	logger.InitializeAndConfigure(cfg.LogLevel)

	if cfg.UsesEmulator() && cfg.ProvisionOnStartup {
		if err := provision(ctx, cfg); err != nil {
			return err
		}
	}

	components, err := relay.NewComponents(cfg)
	if err != nil {
		return err
	}
	r, err := relay.Build(cfg, components)
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Publisher: components.Sink,
		Puller:    components.Source,
		Expose:    cfg.ManagementExposeInfo,
		Stats: func() interface{} {
			stats := map[string]interface{}{
				"mode":   cfg.RelayMode,
				"sink":   components.Sink.Stats(),
				"source": components.Source.Stats(),
			}
			if r != nil {
				stats["relay"] = r.Stats()
			}
			return stats
		},
	}

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: api.SetupRouter(deps),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Listening and serving HTTP on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if r != nil {
		g.Go(func() error {
			logger.WithComponent("relay").WithField("mode", cfg.RelayMode).Info("starting relay")
			return r.Run(gctx)
		})
	}

	return g.Wait()
}

func provision(ctx context.Context, cfg *config.Config) error {
	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := emulator.WaitReachable(waitCtx, cfg.PubsubEmulatorHost); err != nil {
		return err
	}

	project := emulator.Project{
		ID: cfg.PubsubProject,
		Topics: []emulator.TopicSpec{
			{Name: cfg.PubsubTopic, Subscriptions: []string{cfg.PubsubSubscription}},
		},
	}
	return emulator.Provision(ctx, cfg.PubsubEmulatorHost, project)
}
