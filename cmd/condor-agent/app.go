package main

import (
	"condoragent/internal/command"
	"condoragent/internal/config"
	"condoragent/internal/history"
	"condoragent/internal/observability"
	"condoragent/internal/records"
	"condoragent/internal/staging"
	"condoragent/internal/submit"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// schedulerBinaries must resolve for the agent to be ready.
var schedulerBinaries = []string{"condor_submit", "condor_q", "condor_history", "condor_config_val"}

// app holds the wired services shared by every subcommand.
type app struct {
	runner    *command.Exec
	provider  config.Provider
	submitDir string
	ingester  *staging.Ingester
	records   *records.Store
	submit    *submit.Service
	history   *history.Service
}

// newApp wires the scheduler services. metrics may be nil for one-shot commands.
func newApp(ctx context.Context, cfg *config.ServiceConfig, metrics *observability.Metrics) (*app, error) {
	var cmdMetrics command.MetricsRecorder
	var stagingMetrics staging.MetricsRecorder
	if metrics != nil {
		cmdMetrics = metrics
		stagingMetrics = metrics
	}

	runner := command.NewExec(command.Config{
		BinDir:  cfg.CondorBinDir,
		Timeout: cfg.CommandTimeout,
	}, cmdMetrics)

	// Overlay values win over condor_config_val.
	chain := config.Chain{}
	if cfg.ConfigOverlay != "" {
		overlay, err := config.LoadFileProvider(ctx, cfg.ConfigOverlay)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded configuration overlay", "location", cfg.ConfigOverlay)
		chain = append(chain, overlay)
	}
	chain = append(chain, config.NewCondorProvider(runner))

	submitDir := cfg.SubmitDir
	if submitDir == "" {
		v, _ := chain.Lookup(ctx, config.KeySubmitDir, config.Scope{})
		submitDir = strings.ReplaceAll(strings.TrimSpace(v), `"`, "")
	}
	if submitDir == "" {
		slog.Warn("No staging root configured; submissions will fail", "key", config.KeySubmitDir)
	}

	ingester := staging.NewIngester(submitDir, stagingMetrics)
	store := records.NewStore(submitDir)

	return &app{
		runner:    runner,
		provider:  chain,
		submitDir: submitDir,
		ingester:  ingester,
		records:   store,
		submit:    submit.NewService(ingester, runner, store, chain, metrics),
		history:   history.NewService(runner, chain, metrics),
	}, nil
}

// schedulerCheck reports whether the scheduler tools are installed.
func (a *app) schedulerCheck() command.Binaries {
	return command.Binaries{Resolver: a.runner, Names: schedulerBinaries}
}

// requireSubmitDir fails fast for commands that cannot work without a staging root.
func (a *app) requireSubmitDir() error {
	if a.submitDir == "" {
		return fmt.Errorf("no staging root: set SUBMIT_DIR, --submit-dir or %s", config.KeySubmitDir)
	}
	return nil
}
