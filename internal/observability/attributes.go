// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrQueue   = "queue"
	attrCommand = "command"
	attrKind    = "kind"
	attrHistory = "history"
	attrSuccess = "success"
)

// Queue names come from clients, so submissions are only labelled by
// whether they targeted the default queue.
const (
	defaultQueueLabel = "default"
	namedQueueLabel   = "named"
)

// knownPaths are recorded verbatim; anything else is collapsed.
var knownPaths = map[string]bool{
	"/v1/submit": true,
	"/v1/jobs":   true,
	"/livez":     true,
	"/readyz":    true,
	"/metrics":   true,
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func queueAttr(queue string) attribute.KeyValue {
	if queue == "" {
		return attribute.String(attrQueue, defaultQueueLabel)
	}
	return attribute.String(attrQueue, namedQueueLabel)
}

func commandAttr(name string) attribute.KeyValue {
	return attribute.String(attrCommand, name)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func historyAttr(history bool) attribute.KeyValue {
	return attribute.Bool(attrHistory, history)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath keeps known routes and collapses everything else so that
// scanners probing random URLs cannot blow up metric cardinality.
func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	if knownPaths[path] {
		return path
	}
	return "other"
}
