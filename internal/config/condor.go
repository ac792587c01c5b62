package config

import (
	"condoragent/internal/command"
	"context"
	"log/slog"
	"strings"
)

// CondorProvider reads configuration through condor_config_val.
type CondorProvider struct {
	runner command.Runner
	binary string
}

// NewCondorProvider creates a provider backed by the given runner.
func NewCondorProvider(runner command.Runner) *CondorProvider {
	return &CondorProvider{runner: runner, binary: "condor_config_val"}
}

// Lookup implements Provider. A non-zero exit means the key is undefined.
func (p *CondorProvider) Lookup(ctx context.Context, key string, scope Scope) (string, bool) {
	var args []string
	if !scope.Global() {
		args = append(args, "-"+scope.Daemon, "-name", scope.Name)
	}
	args = append(args, key)

	result, err := p.runner.Run(ctx, &command.Command{Name: p.binary, Args: args})
	if err != nil {
		slog.Warn("Configuration lookup failed", "key", key, "daemon", scope.Daemon, "name", scope.Name, "error", err)
		return "", false
	}
	if result.ExitCode != 0 {
		return "", false
	}
	return strings.TrimSpace(result.Stdout), true
}
