// Package staging turns an uploaded submission archive into an extracted,
// private working directory holding exactly one job description file.
package staging

import (
	"archive/zip"
	"condoragent/internal/apperrors"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ContentType is the only accepted upload media type.
const ContentType = "application/zip"

// ArchiveName is the file the uploaded body is saved as inside the staging directory.
const ArchiveName = "submit.zip"

// dirPrefix prefixes every staging directory name.
const dirPrefix = "submit-"

// jobFilePatterns match job description files.
var jobFilePatterns = []string{"*.sub", "*.submit"}

// Area is a freshly extracted staging directory owned by one submission.
type Area struct {
	ID      string // Submission id, for log correlation
	Dir     string // Staging directory
	Archive string // Saved upload
	JobFile string // The single job description file
	Size    int64  // Bytes written to Archive
}

// MetricsRecorder is an optional interface for recording ingest metrics.
type MetricsRecorder interface {
	RecordStagingBytes(ctx context.Context, n int64)
}

// Ingester extracts uploads under a fixed staging root.
type Ingester struct {
	root    string
	metrics MetricsRecorder
}

// NewIngester creates an ingester. The root is never created; metrics may be nil.
func NewIngester(root string, metrics MetricsRecorder) *Ingester {
	return &Ingester{root: root, metrics: metrics}
}

// Ready reports whether the staging root is usable.
func (i *Ingester) Ready(_ context.Context) error {
	if i.root == "" {
		return apperrors.New(apperrors.MissingStagingRoot, "staging root is not configured")
	}
	info, err := os.Stat(i.root)
	if err != nil {
		return apperrors.Wrap(apperrors.MissingStagingRoot, "stat "+i.root, err)
	}
	if !info.IsDir() {
		return apperrors.Newf(apperrors.MissingStagingRoot, "staging root %s is not a directory", i.root)
	}
	return nil
}

// Ingest saves body into a new staging directory, extracts it and locates
// the job description file.
//
// length is the declared body size; -1 reads until EOF. On a job file count
// other than one, the job files and the archive are removed but the directory
// is left behind for diagnostics.
func (i *Ingester) Ingest(ctx context.Context, contentType string, body io.Reader, length int64) (*Area, error) {
	if contentType != ContentType {
		return nil, apperrors.Newf(apperrors.BadContentType, "content type %q is not %s", contentType, ContentType)
	}
	if err := i.Ready(ctx); err != nil {
		return nil, err
	}

	area := &Area{ID: uuid.New().String()}
	logger := slog.With("submissionId", area.ID)

	dir, err := os.MkdirTemp(i.root, dirPrefix)
	if err != nil {
		return nil, apperrors.Internal("staging", fmt.Errorf("failed to create staging directory: %w", err))
	}
	// The scheduler runs jobs as other users; they must be able to write here.
	if err := os.Chmod(dir, 0o777); err != nil {
		logger.Warn("Failed to open up staging directory permissions", "dir", dir, "error", err)
	}
	area.Dir = dir
	area.Archive = filepath.Join(dir, ArchiveName)

	logger.Debug("Writing submission archive", "archive", area.Archive, "length", length)
	n, err := saveBody(area.Archive, body, length)
	if err != nil {
		return nil, err
	}
	area.Size = n
	if i.metrics != nil {
		i.metrics.RecordStagingBytes(ctx, n)
	}

	if err := Extract(area.Archive, dir); err != nil {
		return nil, err
	}

	jobFiles, err := FindJobFiles(dir)
	if err != nil {
		return nil, apperrors.Internal("staging", fmt.Errorf("failed to scan %s: %w", dir, err))
	}
	logger.Debug("Located job files", "dir", dir, "count", len(jobFiles))

	switch len(jobFiles) {
	case 1:
		area.JobFile = jobFiles[0]
		logger.Info("Submission staged", "dir", dir, "jobFile", area.JobFile, "bytes", n)
		return area, nil
	case 0:
		discard(logger, area.Archive)
		return nil, apperrors.Newf(apperrors.ZeroSubmitFiles,
			"found 0 .sub/.submit files in submission archive, expected exactly 1")
	default:
		discard(logger, append(jobFiles, area.Archive)...)
		return nil, apperrors.Newf(apperrors.MultipleSubmitFiles,
			"found %d .sub/.submit files in submission archive, expected exactly 1", len(jobFiles))
	}
}

func saveBody(path string, body io.Reader, length int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, apperrors.Internal("staging", fmt.Errorf("failed to create archive: %w", err))
	}
	defer f.Close()

	var n int64
	if length >= 0 {
		n, err = io.CopyN(f, body, length)
		if errors.Is(err, io.EOF) {
			return n, apperrors.Validation("body",
				fmt.Sprintf("request body ended after %d of %d bytes", n, length))
		}
	} else {
		n, err = io.Copy(f, body)
	}
	if err != nil {
		return n, apperrors.Validation("body", fmt.Sprintf("failed to read request body: %v", err))
	}
	if err := f.Close(); err != nil {
		return n, apperrors.Internal("staging", fmt.Errorf("failed to write archive: %w", err))
	}
	return n, nil
}

// Extract unpacks a zip archive into dest. Entries ending in "/" become
// directories; entries escaping dest are rejected.
func Extract(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return apperrors.Wrap(apperrors.InvalidArchive, "open "+filepath.Base(archive), err)
	}
	defer r.Close()

	for _, entry := range r.File {
		cleanName := filepath.Clean(filepath.FromSlash(entry.Name))
		if filepath.IsAbs(cleanName) || cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(filepath.Separator)) {
			return apperrors.Newf(apperrors.InvalidArchive, "invalid path in archive: %s", entry.Name)
		}
		target := filepath.Join(dest, cleanName)

		if strings.HasSuffix(entry.Name, "/") {
			if err := os.MkdirAll(target, 0o777); err != nil {
				return apperrors.Internal("staging", fmt.Errorf("failed to create directory: %w", err))
			}
			continue
		}

		if err := extractFile(entry, target); err != nil {
			return err
		}
	}

	slog.Debug("Extracted archive", "src", archive, "dest", dest, "entries", len(r.File))
	return nil
}

func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return apperrors.Internal("staging", fmt.Errorf("failed to create parent directory: %w", err))
	}

	rc, err := entry.Open()
	if err != nil {
		return apperrors.Wrap(apperrors.InvalidArchive, "open entry "+entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return apperrors.Internal("staging", fmt.Errorf("failed to create file: %w", err))
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return apperrors.Wrap(apperrors.InvalidArchive, "extract "+entry.Name, err)
	}
	if err := out.Close(); err != nil {
		return apperrors.Internal("staging", fmt.Errorf("failed to write file: %w", err))
	}
	return nil
}

// FindJobFiles returns every *.sub and *.submit file under dir, in walk order.
func FindJobFiles(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, pattern := range jobFilePatterns {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				found = append(found, path)
				break
			}
		}
		return nil
	})
	return found, err
}

func discard(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			logger.Warn("Unable to remove rejected submission file", "path", p, "error", err)
		}
	}
}
