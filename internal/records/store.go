// Package records persists one small JSON record per accepted submission so
// an out-of-band reaper can map cluster ids back to staging directories.
package records

import (
	"bytes"
	"condoragent/internal/apperrors"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// DefaultQueueName names records of submissions made to the default queue.
const DefaultQueueName = "None"

// Extension is the record file suffix.
const Extension = ".cluster"

// Record links a scheduler cluster to the staging directory it came from.
type Record struct {
	ClusterID string  `json:"clusterid"`
	Queue     *string `json:"queue"`
	TmpDir    string  `json:"tmpdir"`
}

// Entry is a record as listed from the store.
type Entry struct {
	Name     string
	URL      string
	Modified time.Time
	Record   *Record
}

// New builds a record. An empty queue is stored as null.
func New(clusterID, queue, tmpDir string) *Record {
	r := &Record{ClusterID: clusterID, TmpDir: tmpDir}
	if queue != "" {
		r.Queue = &queue
	}
	return r
}

// QueueName returns the queue, or DefaultQueueName when unset.
func (r *Record) QueueName() string {
	if r.Queue == nil || *r.Queue == "" {
		return DefaultQueueName
	}
	return *r.Queue
}

// checkName rejects queue names and cluster ids that would place a record
// outside the store root.
func checkName(field, value string) error {
	if strings.ContainsAny(value, `/\`) || strings.Contains(value, "..") {
		return apperrors.Validation(field, fmt.Sprintf("%s %q must not contain path separators or \"..\"", field, value))
	}
	return nil
}

// location validates the record name parts and joins them under the root.
func (s *Store) location(queue, clusterID string) (string, string, error) {
	if err := checkName("queue", queue); err != nil {
		return "", "", err
	}
	if err := checkName("clusterid", clusterID); err != nil {
		return "", "", err
	}
	name := FileName(queue, clusterID)
	return name, url.Join(s.root, name), nil
}

// FileName returns "<queue>-<clusterId>.cluster".
func FileName(queue, clusterID string) string {
	if queue == "" {
		queue = DefaultQueueName
	}
	return queue + "-" + clusterID + Extension
}

// Store reads and writes records under a root location.
type Store struct {
	fs   afs.Service
	root string
}

// NewStore creates a store rooted at a local path or afs URL.
func NewStore(root string) *Store {
	return &Store{fs: afs.New(), root: root}
}

// Save writes a record and returns its location. Records are write-once.
func (s *Store) Save(ctx context.Context, r *Record) (string, error) {
	if r.ClusterID == "" {
		return "", apperrors.Validation("clusterid", "record has no cluster id")
	}
	name, location, err := s.location(r.QueueName(), r.ClusterID)
	if err != nil {
		return "", err
	}

	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return "", fmt.Errorf("failed to check record %s: %w", location, err)
	}
	if exists {
		return "", apperrors.Conflict("record", name, fmt.Sprintf("record %s already exists", name))
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write record %s: %w", location, err)
	}
	return location, nil
}

// Load reads the record for a queue and cluster id.
func (s *Store) Load(ctx context.Context, queue, clusterID string) (*Record, error) {
	name, location, err := s.location(queue, clusterID)
	if err != nil {
		return nil, err
	}

	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check record %s: %w", location, err)
	}
	if !exists {
		return nil, apperrors.NotFound("record", name)
	}
	return s.read(ctx, location)
}

// List returns every record under the root, sorted by name.
// Unreadable records are skipped with their error recorded as a nil Record.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	objects, err := s.fs.List(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", s.root, err)
	}

	var entries []Entry
	for _, o := range objects {
		if o == nil || o.IsDir() || !strings.HasSuffix(o.Name(), Extension) {
			continue
		}
		location := url.Join(s.root, o.Name())
		entry := Entry{Name: o.Name(), URL: location, Modified: o.ModTime()}
		if r, err := s.read(ctx, location); err == nil {
			entry.Record = r
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the record for a queue and cluster id.
func (s *Store) Delete(ctx context.Context, queue, clusterID string) error {
	name, location, err := s.location(queue, clusterID)
	if err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check record %s: %w", location, err)
	}
	if !exists {
		return apperrors.NotFound("record", name)
	}
	if err := s.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", location, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, location string) (*Record, error) {
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", location, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", location, err)
	}
	return &r, nil
}
