// Package submit turns an uploaded archive into a scheduler cluster.
package submit

import (
	"condoragent/internal/apperrors"
	"condoragent/internal/command"
	"condoragent/internal/config"
	"condoragent/internal/observability"
	"condoragent/internal/records"
	"condoragent/internal/staging"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const submitBinary = "condor_submit"

// minTrustedPrefix is the shortest CONDOR_AGENT_SUBMIT_DIR cleanup will honour.
const minTrustedPrefix = 4

var clusterPattern = regexp.MustCompile(`submitted to cluster (\d+)`)

// Service submits staged job files to the scheduler.
type Service struct {
	ingester *staging.Ingester
	runner   command.Runner
	records  *records.Store
	config   config.Provider
	metrics  *observability.Metrics
}

// NewService creates a submission service. metrics may be nil.
func NewService(ingester *staging.Ingester, runner command.Runner, store *records.Store, provider config.Provider, metrics *observability.Metrics) *Service {
	return &Service{
		ingester: ingester,
		runner:   runner,
		records:  store,
		config:   provider,
		metrics:  metrics,
	}
}

// Submit ingests the archive, submits its job file and writes the record.
func (s *Service) Submit(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "submit", attribute.String("queue", req.Queue))
	defer span.End()

	resp, err := s.submit(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, req.Queue, apperrors.KindOf(err), time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("cluster.id", resp.ClusterID))
	return resp, nil
}

func (s *Service) submit(ctx context.Context, req *Request) (*Response, error) {
	area, err := s.ingester.Ingest(ctx, req.ContentType, req.Body, req.Length)
	if err != nil {
		return nil, err
	}
	logger := slog.With("submissionId", area.ID, "queue", req.Queue, "dir", area.Dir)

	clusterID, err := s.SubmitJobFile(ctx, area.JobFile, req.Queue)
	if err != nil {
		return nil, err
	}

	// The archive stays for debugging; the job file is no longer needed.
	if err := os.Remove(area.JobFile); err != nil {
		logger.Warn("Unable to remove job file", "path", area.JobFile, "error", err)
	}
	if err := openPermissions(area.Dir); err != nil {
		logger.Warn("Unable to chmod staged files", "error", err)
	}

	resp := &Response{ClusterID: clusterID, StagingDir: area.Dir}
	location, err := s.records.Save(ctx, records.New(clusterID, req.Queue, area.Dir))
	if err != nil {
		logger.Error("Unable to write submission record", "clusterId", clusterID, "error", err)
	} else {
		resp.RecordPath = location
	}

	logger.Info("Job submitted", "clusterId", clusterID)
	return resp, nil
}

// SubmitJobFile runs condor_submit on jobFile from its own directory and
// returns the cluster id. On any failure the job file's directory is cleaned
// up through CleanSubmissionDir before the error is returned.
func (s *Service) SubmitJobFile(ctx context.Context, jobFile, queue string) (clusterID string, err error) {
	dir := filepath.Dir(jobFile)
	logger := slog.With("jobFile", jobFile, "queue", queue)

	defer func() {
		if err != nil {
			s.CleanSubmissionDir(ctx, dir)
		}
	}()

	var args []string
	if queue != "" {
		args = append(args, "-name", queue)
	}
	if extra, ok := s.config.Lookup(ctx, config.KeySubmitAdditionalArgs, config.Scope{}); ok {
		if additional := config.SplitList(extra); len(additional) > 0 {
			logger.Debug("Adding additional submit arguments", "args", additional)
			args = append(args, additional...)
		}
	}
	args = append(args, jobFile)

	cmd := &command.Command{
		Name:  submitBinary,
		Args:  args,
		Dir:   dir,
		Umask: command.Umask(0),
	}
	logger.Debug("Submitting job", "cmdline", cmd.String())

	result, err := s.runner.Run(ctx, cmd)
	if err != nil {
		if result != nil {
			logger.Error("condor_submit did not complete", "error", err, "stdout", result.Stdout, "stderr", result.Stderr)
		} else {
			logger.Error("condor_submit did not complete", "error", err)
		}
		return "", err
	}

	if result.ExitCode != 0 {
		logger.Error("Submission failed", "exitCode", result.ExitCode, "stderr", result.Stderr)
		return "", apperrors.Newf(apperrors.SubmissionRejected,
			"failed to submit jobs to condor with error:\n%s", result.Stderr)
	}

	match := clusterPattern.FindStringSubmatch(result.Stdout)
	if match == nil {
		logger.Error("Unable to parse cluster id from condor_submit output", "stdout", result.Stdout)
		return "", apperrors.Newf(apperrors.UnparsableSubmission,
			"failed to parse cluster id from output:\n%s", result.Stdout)
	}
	return match[1], nil
}

// CleanSubmissionDir removes a staging directory after a failed submission.
//
// The directory is only removed when CONDOR_AGENT_SUBMIT_DIR (quotes stripped)
// is longer than three characters and occurs somewhere in path. The match is
// a substring test, not a path prefix test.
func (s *Service) CleanSubmissionDir(ctx context.Context, path string) {
	logger := slog.With("dir", path)

	prefix, _ := s.config.Lookup(ctx, config.KeySubmitDir, config.Scope{})
	prefix = strings.ReplaceAll(prefix, `"`, "")

	if len(prefix) < minTrustedPrefix {
		logger.Warn("Skipped cleanup after failed submission, submit directory prefix is not trusted", "prefix", prefix)
		s.cleanupSkipped(ctx)
		return
	}
	if !strings.Contains(path, prefix) {
		logger.Warn("Skipped cleanup after failed submission, path does not contain expected prefix", "prefix", prefix)
		s.cleanupSkipped(ctx)
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		logger.Warn("Skipped cleanup after failed submission, path is not a directory")
		s.cleanupSkipped(ctx)
		return
	}

	logger.Info("Cleaning up directory after failed submission")
	if err := os.RemoveAll(path); err != nil {
		logger.Error("Unable to clean up after failed submission", "error", err)
	}
}

func (s *Service) cleanupSkipped(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.RecordCleanupSkipped(ctx)
	}
}

// openPermissions makes every regular file under dir world read/write so
// job output can be edited by the submitting user.
func openPermissions(dir string) error {
	var failed int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := os.Chmod(path, 0o666); err != nil {
			failed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("failed to chmod %d files", failed)
	}
	return nil
}
