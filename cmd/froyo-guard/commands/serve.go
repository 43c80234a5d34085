package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-guard/internal/catalog"
	"github.com/openfroyo/froyo-guard/internal/config"
	"github.com/openfroyo/froyo-guard/internal/drift"
	"github.com/openfroyo/froyo-guard/internal/engine"
	"github.com/openfroyo/froyo-guard/internal/executor"
	"github.com/openfroyo/froyo-guard/internal/ipc"
	"github.com/openfroyo/froyo-guard/internal/restorepoint"
	"github.com/openfroyo/froyo-guard/internal/store"
	"github.com/openfroyo/froyo-guard/internal/sysinfo"
	"github.com/openfroyo/froyo-guard/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		cfgFile       string
		catalogDir    string
		dbPath        string
		driftInterval time.Duration
		autoRemediate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the IPC service",
		Long: `Run the privacy-hardening agent: load the policy catalog, open the
local IPC endpoint, and start the background drift monitor.

Settings come from an optional YAML config file (--config), with any of
the flags below overriding the corresponding config file value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("catalog") {
				cfg.CatalogDir = catalogDir
			}
			if flags.Changed("db") {
				cfg.StorePath = dbPath
			}
			if flags.Changed("drift-interval") {
				cfg.DriftInterval = driftInterval
			}
			if flags.Changed("auto-remediate") {
				cfg.AutoRemediate = autoRemediate
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "agent config YAML file (overrides below take precedence over its values)")
	cmd.Flags().StringVar(&catalogDir, "catalog", "./catalog", "policy catalog directory")
	cmd.Flags().StringVar(&dbPath, "db", "./froyo-guard.db", "change log / snapshot store path")
	cmd.Flags().DurationVar(&driftInterval, "drift-interval", 15*time.Minute, "drift detection poll interval (0 disables)")
	cmd.Flags().BoolVar(&autoRemediate, "auto-remediate", false, "automatically re-apply drifted policies")

	return cmd
}

// buildTelemetryConfig maps the agent-level config.Telemetry block onto a
// full telemetry.Config, starting from telemetry.DefaultConfig() so fields
// the agent config doesn't expose (sampling buckets, resource attributes,
// ...) keep the package's own defaults.
func buildTelemetryConfig(t config.Telemetry) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = t.ServiceName
	tc.Environment = t.Environment
	tc.Logging.Level = t.LogLevel
	tc.Logging.Format = t.LogFormat
	tc.Metrics.Enabled = t.MetricsEnabled
	tc.Metrics.ListenAddress = t.MetricsListen
	tc.Tracing.Enabled = t.TracingEnabled
	tc.Tracing.Exporter = t.TraceExporter
	tc.Tracing.Endpoint = t.TraceEndpoint
	tc.Tracing.SamplingRate = t.SamplingRate
	tc.Tracing.ExportTimeout = t.ExportTimeout
	return tc
}

func runServe(ctx context.Context, cfg *config.Config) error {
	telCfg := buildTelemetryConfig(cfg.Telemetry)
	if err := telCfg.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telCfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		log.Warn().Err(err).Msg("failed to start metrics server, continuing without it")
	}

	tracer, err := telemetry.NewTracer(telCfg.Tracing, telCfg.ServiceName, telCfg.ServiceVersion, telCfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down tracer cleanly")
		}
	}()

	loader := catalog.NewLoader(log.Logger)
	policies, err := loader.LoadDirectory(ctx, cfg.CatalogDir)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := catalog.ValidateCatalog(policies); err != nil {
		return fmt.Errorf("catalog failed validation: %w", err)
	}
	log.Info().Int("count", len(policies)).Str("dir", cfg.CatalogDir).Msg("loaded policy catalog")

	st, err := store.New(store.Config{Path: cfg.StorePath, MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	eng := engine.New(log.Logger, st, executor.NewRegistry(), restorepoint.New(), sysinfo.New(), metrics, tracer)
	eng.SetCatalog(policies)

	if err := loader.Watch(ctx, cfg.CatalogDir, func() {
		reloaded, err := loader.LoadDirectory(ctx, cfg.CatalogDir)
		if err != nil {
			log.Warn().Err(err).Msg("catalog reload failed, keeping previous catalog")
			return
		}
		if err := catalog.ValidateCatalog(reloaded); err != nil {
			log.Warn().Err(err).Msg("reloaded catalog failed validation, keeping previous catalog")
			return
		}
		eng.SetCatalog(reloaded)
		log.Info().Int("count", len(reloaded)).Msg("reloaded policy catalog")
	}); err != nil {
		log.Warn().Err(err).Msg("failed to start catalog watcher, continuing without hot reload")
	}
	defer loader.StopWatching()

	monitor := drift.NewMonitor(log.Logger, eng, eng, metrics)
	monitor.SetInterval(cfg.DriftInterval)
	monitor.SetAutoRemediate(cfg.AutoRemediate)
	go monitor.Run(ctx)
	defer monitor.Stop()

	endpoint := cfg.EndpointName
	if endpoint == "" {
		endpoint = ipc.EndpointName
	}
	srv := ipc.NewServer(log.Logger, eng, ipc.NewCallerResolver(), st, metrics, tracer, `\\.\pipe\`+endpoint)
	log.Info().Str("endpoint", endpoint).Msg("starting IPC server")
	return srv.Serve(ctx)
}
