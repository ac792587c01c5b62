// condor-agent is the HTTP bridge between remote clients and the local
// HTCondor scheduler tools.
package main

import (
	"condoragent/internal/config"
	"condoragent/internal/logging"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "condor-agent"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults come from the environment
// so flags only need to be passed to override it.
func newRootCmd() *cobra.Command {
	cfg := config.LoadServiceConfig()

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Submit and query HTCondor jobs over HTTP",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.NewLogger(serviceName, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	flags.StringVar(&cfg.SubmitDir, "submit-dir", cfg.SubmitDir, "Staging root (default: CONDOR_AGENT_SUBMIT_DIR from the scheduler config)")
	flags.StringVar(&cfg.CondorBinDir, "bin-dir", cfg.CondorBinDir, "Directory holding condor_* binaries (default: PATH)")
	flags.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "Per-command time limit (0 disables)")
	flags.StringVar(&cfg.ConfigOverlay, "config-overlay", cfg.ConfigOverlay, "YAML file or URL overriding scheduler configuration values")
	flags.StringVar(&cfg.ScheddName, "schedd", cfg.ScheddName, "Default schedd name for queries")

	root.AddCommand(
		newServeCmd(cfg),
		newSubmitCmd(cfg),
		newQueryCmd(cfg),
		newRecordsCmd(cfg),
	)

	return root
}
