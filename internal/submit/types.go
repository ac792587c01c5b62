package submit

import "io"

// Request is one upload to submit.
type Request struct {
	Queue       string    // Target scheduler queue (empty = default)
	ContentType string    // Must be application/zip
	Length      int64     // Declared body length (-1 = unknown)
	Body        io.Reader // Zip archive
}

// Response describes an accepted submission.
type Response struct {
	ClusterID  string `json:"clusterId"`
	StagingDir string `json:"stagingDir"`
	RecordPath string `json:"recordPath,omitempty"` // Empty when the record could not be written
}
