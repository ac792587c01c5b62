package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Overlay is the on-disk shape of a configuration overlay:
//
//	values:
//	  CONDOR_AGENT_SUBMIT_DIR: /var/lib/condor/submit
//	schedds:
//	  pool1:
//	    HISTORY: /var/lib/condor/spool/pool1/history
type Overlay struct {
	Values  map[string]string            `yaml:"values"`
	Schedds map[string]map[string]string `yaml:"schedds"`
}

// FileProvider serves lookups from a YAML overlay, consulted ahead of the
// scheduler so operators can pin values without touching condor_config.
type FileProvider struct {
	overlay Overlay
}

// LoadFileProvider reads an overlay from a local path or any afs-supported URL.
func LoadFileProvider(ctx context.Context, location string) (*FileProvider, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read config overlay %s: %w", location, err)
	}
	return ParseOverlay(data)
}

// ParseOverlay builds a provider from YAML bytes.
func ParseOverlay(data []byte) (*FileProvider, error) {
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config overlay: %w", err)
	}
	return &FileProvider{overlay: overlay}, nil
}

// Lookup implements Provider. Schedd-scoped values override global ones.
func (p *FileProvider) Lookup(_ context.Context, key string, scope Scope) (string, bool) {
	if !scope.Global() && strings.EqualFold(scope.Daemon, "schedd") {
		if values, ok := p.overlay.Schedds[scope.Name]; ok {
			if v, ok := values[key]; ok {
				return v, true
			}
		}
	}
	v, ok := p.overlay.Values[key]
	return v, ok
}
