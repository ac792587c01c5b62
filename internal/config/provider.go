package config

import (
	"context"
	"strings"
)

// Well-known scheduler configuration keys.
const (
	KeySubmitAdditionalArgs = "CONDOR_AGENT_SUBMIT_PROXY_ADDITIONAL_ARGUMENTS"
	KeySubmitDir            = "CONDOR_AGENT_SUBMIT_DIR"
	KeyHistory              = "HISTORY"
)

// Scope narrows a lookup to one daemon instance, e.g. {Daemon: "schedd", Name: "pool1"}.
// The zero Scope is the global configuration.
type Scope struct {
	Daemon string
	Name   string
}

// Global reports whether the scope addresses the global configuration.
func (s Scope) Global() bool {
	return s.Daemon == "" || s.Name == ""
}

// ScheddScope returns the scope for a named schedd; an empty name is global.
func ScheddScope(name string) Scope {
	if name == "" {
		return Scope{}
	}
	return Scope{Daemon: "schedd", Name: name}
}

// Provider answers scheduler configuration lookups.
// ok is false when the key is undefined; a defined key may still be blank.
type Provider interface {
	Lookup(ctx context.Context, key string, scope Scope) (value string, ok bool)
}

// MapProvider serves lookups from memory. Scoped values live under
// "<daemon>/<name>/<KEY>" and fall back to the global key.
type MapProvider map[string]string

// Lookup implements Provider.
func (m MapProvider) Lookup(_ context.Context, key string, scope Scope) (string, bool) {
	if !scope.Global() {
		if v, ok := m[scope.Daemon+"/"+scope.Name+"/"+key]; ok {
			return v, true
		}
	}
	v, ok := m[key]
	return v, ok
}

// Chain consults providers in order; the first defined value wins.
type Chain []Provider

// Lookup implements Provider.
func (c Chain) Lookup(ctx context.Context, key string, scope Scope) (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if v, ok := p.Lookup(ctx, key, scope); ok {
			return v, true
		}
	}
	return "", false
}

// SplitList splits a comma-separated value, trimming items and dropping empties.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
