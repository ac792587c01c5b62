package main

import (
	"condoragent/internal/config"
	"condoragent/internal/history"
	"condoragent/internal/staging"
	"condoragent/internal/submit"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// signalContext cancels on SIGINT/SIGTERM so a running scheduler command is killed.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newSubmitCmd(cfg *config.ServiceConfig) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "submit <archive.zip>",
		Short: "Submit a job archive locally, exactly as POST /v1/submit would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			if err := a.requireSubmitDir(); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			resp, err := a.submit.Submit(ctx, &submit.Request{
				Queue:       queue,
				ContentType: staging.ContentType,
				Length:      info.Size(),
				Body:        f,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.ClusterID)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Target schedd (default: local schedd)")
	return cmd
}

func newQueryCmd(cfg *config.ServiceConfig) *cobra.Command {
	var (
		completedSince int64
		jobs           string
		withHistory    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the merged queue and history text, exactly as GET /v1/jobs would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}

			result, err := a.history.Execute(ctx, history.Request{
				Schedd:         cfg.ScheddName,
				CompletedSince: completedSince,
				Jobs:           jobs,
				History:        withHistory,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Data)
			fmt.Fprintln(cmd.ErrOrStderr(), "next completedSince: "+strconv.FormatInt(result.CompletedSince, 10))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&completedSince, "completed-since", 0, "Watermark from the previous poll (unix seconds)")
	flags.StringVar(&jobs, "jobs", "", "Space-separated job ids (default: all)")
	flags.BoolVar(&withHistory, "history", false, "Include completed jobs from history files")
	return cmd
}

func newRecordsCmd(cfg *config.ServiceConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List submission records under the staging root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newRecordsApp(ctx, cfg)
			if err != nil {
				return err
			}

			entries, err := a.records.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tCLUSTER\tSTAGING DIR\tMODIFIED")
			for _, e := range entries {
				if e.Record == nil {
					fmt.Fprintf(w, "?\t?\t(unreadable %s)\t%s\n", e.Name, e.Modified.Format("2006-01-02 15:04:05"))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Record.QueueName(), e.Record.ClusterID, e.Record.TmpDir,
					e.Modified.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(newRecordsShowCmd(cfg), newRecordsDeleteCmd(cfg))
	return cmd
}

func newRecordsShowCmd(cfg *config.ServiceConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue|None> <cluster>",
		Short: "Print one submission record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newRecordsApp(ctx, cfg)
			if err != nil {
				return err
			}

			record, err := a.records.Load(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}
}

func newRecordsDeleteCmd(cfg *config.ServiceConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <queue|None> <cluster>",
		Short: "Remove one submission record, leaving its staging directory alone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newRecordsApp(ctx, cfg)
			if err != nil {
				return err
			}

			if err := a.records.Delete(ctx, args[0], args[1]); err != nil {
				return err
			}
			slog.Info("Deleted submission record", "queue", args[0], "clusterId", args[1])
			return nil
		},
	}
}

// newRecordsApp wires the app for commands that only touch the record store.
func newRecordsApp(ctx context.Context, cfg *config.ServiceConfig) (*app, error) {
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	if err := a.requireSubmitDir(); err != nil {
		return nil, err
	}
	return a, nil
}
