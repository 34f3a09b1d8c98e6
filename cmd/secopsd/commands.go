package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/lucid-vigil/secops/pkg/api"
	"github.com/lucid-vigil/secops/pkg/config"
	"github.com/lucid-vigil/secops/pkg/logger"
	"github.com/lucid-vigil/secops/pkg/metrics"
	"github.com/lucid-vigil/secops/pkg/orchestration"
	"github.com/lucid-vigil/secops/pkg/pipeline"
	"github.com/lucid-vigil/secops/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "secopsd",
		Short:         "Unified IT/OT/cloud security operations pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and the HTTP API until interrupted",
		RunE:  runPipeline,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and playbook definitions, then exit",
		RunE:  runValidate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default ./config.yaml or /etc/secops/config.yaml)")
	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", version).Str("api_port", cfg.APIPort).Int("sources", len(cfg.Sources)).Msg("secopsd starting")

	loader.Watch(func(next *config.Config) {
		logger.SetLevel(next.LogLevel)
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if cfg.Store.Enabled {
		db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log.Logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Bootstrap(ctx); err != nil {
			return err
		}
		opts = append(opts, pipeline.WithStore(db))
	}

	p, err := pipeline.New(cfg, log.Logger, opts...)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		p.Stop()
		return err
	}

	server := api.NewServer(p.Ingestion, p.Orchestration.Incidents(), p.Analytics, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, ":"+cfg.APIPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		p.Stop()
		return nil
	})

	err = g.Wait()
	stats := p.ErrorStats()
	log.Info().Int("errors_handled", stats.TotalErrors).Msg("secopsd stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	for _, sc := range cfg.Sources {
		if err := validate.Struct(pipeline.SourceFromConfig(sc)); err != nil {
			return fmt.Errorf("source %s: %w", sc.ID, err)
		}
	}

	defs := orchestration.DefaultDefinitions()
	if cfg.Orchestration.DefinitionsPath != "" {
		if defs, err = orchestration.LoadDefinitions(cfg.Orchestration.DefinitionsPath); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sources:   %d\n", len(cfg.Sources))
	fmt.Fprintf(out, "playbooks: %d\n", len(defs.Playbooks))
	fmt.Fprintf(out, "policies:  %d\n", len(defs.Policies))
	fmt.Fprintf(out, "store:     %t\n", cfg.Store.Enabled)
	return nil
}
