// Package commands implements CLI command handlers for appaudit.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/breaker"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/config"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/dispatch"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/locator"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/observability"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/persist"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
	"github.com/GrabowMar/ThesisAppRework-sub000/pkg/version"
)

// NewServeCommand creates the serve command: the long-running engine.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher engine",
		Long: `Runs the engine loop: polls the task store for ready tasks, fans
subtasks out to the analyzer workers, aggregates and persists results.
Diagnostics (health, readiness, Prometheus metrics) are served over HTTP.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	providers, err := observability.Init(observability.Config{
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Mode:           observability.ModeServe,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		LogLevel:       parseLogLevel(cfg.Telemetry.LogLevel),
		LogJSON:        cfg.Telemetry.LogJSON,
		LogFile:        cfg.Telemetry.LogFile,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	logger := providers.Logger
	slog.SetDefault(logger)

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			logger.Warn("telemetry shutdown", "error", shutdownErr)
		}
	}()

	store, err := task.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ports, err := locator.LoadPortDirectory(cfg.PortsFile)
	if err != nil {
		return err
	}

	clients := buildClients(cfg, logger)

	diag, err := observability.NewDiagnosticsServer(cfg.Telemetry.DiagnosticsAddr, readyChecks(clients)...)
	if err != nil {
		return err
	}

	defer func() { _ = diag.Close() }()

	gaugeErr := observability.RegisterAnalyzerGauges(diag.Meter(), clients)
	if gaugeErr != nil {
		return fmt.Errorf("register analyzer gauges: %w", gaugeErr)
	}

	logger.Info("appaudit engine starting",
		"version", version.Version,
		"diagnostics", diag.Addr(),
		"parallelism", cfg.Dispatcher.Parallelism)

	dispatcher := dispatch.New(
		dispatch.Config{
			Parallelism:       cfg.Dispatcher.Parallelism,
			PollInterval:      cfg.Dispatcher.PollInterval,
			LeaseTTL:          cfg.Dispatcher.LeaseTTL,
			LeaseGrace:        cfg.Dispatcher.LeaseGrace,
			SweepInterval:     cfg.Dispatcher.SweepInterval,
			AggregationBudget: cfg.Dispatcher.AggregationBudget,
			ArtifactThreshold: cfg.Artifacts.InlineThreshold,
		},
		store,
		locator.New(cfg.AppsRoot, ports),
		asDispatchClients(clients),
		persist.New(cfg.ResultsRoot),
		logger,
		diag.Metrics(),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := dispatcher.Run(ctx)

	logger.Info("appaudit engine stopped")

	return runErr
}

// buildClients creates one transport client per configured service.
// Services without an endpoint are left out; their subtasks fail as
// unavailable.
func buildClients(cfg *config.Config, logger *slog.Logger) map[analyzer.Service]*analyzer.Client {
	clients := make(map[analyzer.Service]*analyzer.Client)

	for _, service := range analyzer.Services() {
		svcCfg := cfg.Service(service)
		if svcCfg.Endpoint == "" {
			continue
		}

		clients[service] = analyzer.NewClient(analyzer.ClientConfig{
			Service:  service,
			Endpoint: svcCfg.Endpoint,
			Timeout:  svcCfg.Timeout,
			PoolSize: int64(svcCfg.PoolSize),
			Breaker:  breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, cfg.Breaker.MaxCooldown),
			Logger:   logger,
		})
	}

	return clients
}

func asDispatchClients(clients map[analyzer.Service]*analyzer.Client) map[analyzer.Service]dispatch.AnalyzerClient {
	out := make(map[analyzer.Service]dispatch.AnalyzerClient, len(clients))
	for service, client := range clients {
		out[service] = client
	}

	return out
}

// readyChecks reports ready when at least one analyzer service answers
// its health probe; an engine with every worker down cannot make
// progress.
func readyChecks(clients map[analyzer.Service]*analyzer.Client) []observability.ReadyCheck {
	if len(clients) == 0 {
		return nil
	}

	check := func(ctx context.Context) error {
		for _, client := range clients {
			report := client.Health(ctx)
			if report.Status != analyzer.HealthDown {
				return nil
			}
		}

		return fmt.Errorf("all %d analyzer services are down", len(clients))
	}

	return []observability.ReadyCheck{check}
}

func parseLogLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}

	return level
}
