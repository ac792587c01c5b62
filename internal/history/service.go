package history

import (
	"condoragent/internal/apperrors"
	"condoragent/internal/command"
	"condoragent/internal/config"
	"condoragent/internal/observability"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	queueBinary   = "condor_q"
	historyBinary = "condor_history"
)

// Request selects what to report.
type Request struct {
	Schedd         string // Scheduler name (empty = local schedd)
	CompletedSince int64  // Caller's watermark, unix seconds
	Jobs           string // Space-separated job ids (empty = all)
	History        bool   // Include completed jobs from history files
}

// Result is the merged text plus the caller's next watermark.
type Result struct {
	Data           string
	CompletedSince int64
}

// Service runs queue and history queries.
type Service struct {
	runner  command.Runner
	config  config.Provider
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a query service. metrics may be nil.
func NewService(runner command.Runner, provider config.Provider, metrics *observability.Metrics) *Service {
	return &Service{
		runner:  runner,
		config:  provider,
		metrics: metrics,
		now:     time.Now,
	}
}

// Execute runs condor_q and, when requested, condor_history over every
// history file recent enough to matter. The returned watermark is taken
// before any command runs.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	next := NextWatermark(start)

	ctx, span := observability.StartSpan(ctx, "history.execute",
		attribute.String("schedd", req.Schedd),
		attribute.Bool("history", req.History),
		attribute.Int64("completed_since", req.CompletedSince),
	)
	defer span.End()

	data, err := s.execute(ctx, req, next)
	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, req.History, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Result{Data: data, CompletedSince: next}, nil
}

func (s *Service) execute(ctx context.Context, req Request, next int64) (string, error) {
	jobs, err := ParseJobs(req.Jobs)
	if err != nil {
		return "", err
	}

	current, err := s.Current(ctx, req.Schedd, jobs)
	if err != nil {
		return "", err
	}
	if !req.History {
		return current, nil
	}

	completed, err := s.History(ctx, req.Schedd, req.CompletedSince, jobs)
	if err != nil {
		return "", err
	}
	return current + Marker(next) + completed, nil
}

// ParseJobs splits a space-separated job filter. Entries are passed to the
// scheduler tools as positional arguments, so anything that looks like an
// option is rejected.
func ParseJobs(jobs string) ([]string, error) {
	fields := strings.Fields(jobs)
	for _, id := range fields {
		if strings.HasPrefix(id, "-") {
			return nil, apperrors.Validation("jobs", fmt.Sprintf("job id %q must not start with '-'", id))
		}
	}
	return fields, nil
}

// Current returns the live queue in long format.
func (s *Service) Current(ctx context.Context, schedd string, jobs []string) (string, error) {
	var args []string
	if schedd != "" {
		args = append(args, "-name", schedd)
	}
	args = append(args, "-long")
	args = append(args, jobs...)

	return s.run(ctx, &command.Command{Name: queueBinary, Args: args})
}

// History returns completed jobs from every eligible history file, in path order.
func (s *Service) History(ctx context.Context, schedd string, completedSince int64, jobs []string) (string, error) {
	logger := slog.With("schedd", schedd, "completedSince", completedSince)

	base, ok := s.config.Lookup(ctx, config.KeyHistory, config.ScheddScope(schedd))
	if !ok {
		return "", apperrors.New(apperrors.HistoryNotConfigured, "history is not enabled on this scheduler")
	}
	if strings.TrimSpace(base) == "" {
		return "", apperrors.New(apperrors.HistoryConfigEmpty, "the HISTORY setting is an empty string")
	}
	logger.Debug("Using history file", "history", base)

	files, err := Discover(base)
	if err != nil {
		return "", apperrors.Internal("history", err)
	}

	var (
		out     strings.Builder
		scanned int
	)
	for _, f := range files {
		if !Eligible(f.ModTime, completedSince) {
			logger.Debug("History file last modified before completedSince, skipped", "file", filepath.Base(f.Path))
			continue
		}
		scanned++
		data, err := s.historyFromFile(ctx, f.Path, completedSince, jobs)
		if err != nil {
			return "", err
		}
		out.WriteString(data)
	}

	if s.metrics != nil {
		s.metrics.RecordHistoryFiles(ctx, scanned, len(files)-scanned)
	}
	logger.Debug("History merged", "files", len(files), "scanned", scanned)
	return out.String(), nil
}

func (s *Service) historyFromFile(ctx context.Context, path string, completedSince int64, jobs []string) (string, error) {
	args := []string{"-l", "-f", path}
	if len(jobs) > 0 {
		args = append(args, jobs...)
	} else {
		args = append(args, "-constraint", fmt.Sprintf("EnteredCurrentStatus >= %d", completedSince))
	}
	return s.run(ctx, &command.Command{Name: historyBinary, Args: args})
}

// run treats any stderr output as failure, as the scheduler tools print
// errors there while still exiting zero.
func (s *Service) run(ctx context.Context, cmd *command.Command) (string, error) {
	slog.Debug("Running query", "cmdline", cmd.String())
	result, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if result.Stderr != "" {
		return "", apperrors.Newf(apperrors.QueryFailed, "executing %s command:\n%s", cmd.Name, result.Stderr)
	}
	if result.ExitCode != 0 {
		return "", apperrors.Newf(apperrors.QueryFailed, "%s exited with status %d", cmd.Name, result.ExitCode)
	}
	return result.Stdout, nil
}
