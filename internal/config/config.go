// Package config loads and saves the navigation core's parameter set
// (navmsg.Parameters), modeled on the teacher's
// cmd/spectrometer/internal/config Loader/Saver split: format
// auto-detected from the file extension, YAML as the canonical format.
// This stands in for CARMEN's parameter server (out of scope per spec.md's
// Non-goals): only the edge the core touches -- load parameters once at
// startup, optionally persist edits back out -- is modeled here.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/itohio/navcore/internal/navmsg"
)

// Loader reads navmsg.Parameters from a file or reader.
type Loader struct {
	format string // overrides extension-based detection when non-empty
}

// NewLoader creates a Loader. format, if non-empty, overrides
// extension-based auto-detection for every Load call.
func NewLoader(format string) *Loader {
	return &Loader{format: strings.ToLower(format)}
}

// Load reads parameters from path, auto-detecting format from its
// extension unless the loader was constructed with an override.
func (l *Loader) Load(ctx context.Context, path string) (navmsg.Parameters, error) {
	format := l.detectFormat(path)
	slog.Debug("loading parameters", "path", path, "format", format)

	file, err := os.Open(path)
	if err != nil {
		return navmsg.Parameters{}, fmt.Errorf("config: open: %w", err)
	}
	defer file.Close()

	return l.LoadFromReader(ctx, file, format)
}

// LoadFromReader reads parameters from r in the given format, starting
// from navmsg.DefaultParameters() so an incomplete file still yields a
// usable parameter set.
func (l *Loader) LoadFromReader(ctx context.Context, r io.Reader, format string) (navmsg.Parameters, error) {
	format = strings.ToLower(format)
	params := navmsg.DefaultParameters()

	switch format {
	case "yaml", "yml":
		data, err := io.ReadAll(r)
		if err != nil {
			return navmsg.Parameters{}, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return navmsg.Parameters{}, fmt.Errorf("config: unmarshal: %w", err)
		}
	default:
		return navmsg.Parameters{}, fmt.Errorf("config: unsupported format %q (supported: yaml)", format)
	}

	return params, nil
}

func (l *Loader) detectFormat(path string) string {
	if l.format != "" {
		return l.format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "yaml"
	}
}

// Saver writes navmsg.Parameters to a file or writer.
type Saver struct {
	format string
}

// NewSaver creates a Saver. format, if non-empty, overrides
// extension-based auto-detection for every Save call.
func NewSaver(format string) *Saver {
	return &Saver{format: strings.ToLower(format)}
}

// Save writes params to path, auto-detecting format from its extension
// unless the saver was constructed with an override.
func (s *Saver) Save(ctx context.Context, path string, params navmsg.Parameters) error {
	format := s.detectFormat(path)
	slog.Debug("saving parameters", "path", path, "format", format)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create: %w", err)
	}
	defer file.Close()

	return s.SaveToWriter(ctx, file, format, params)
}

// SaveToWriter writes params to w in the given format.
func (s *Saver) SaveToWriter(ctx context.Context, w io.Writer, format string, params navmsg.Parameters) error {
	format = strings.ToLower(format)

	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		if err := enc.Encode(params); err != nil {
			return fmt.Errorf("config: marshal: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("config: unsupported format %q (supported: yaml)", format)
	}
}

func (s *Saver) detectFormat(path string) string {
	if s.format != "" {
		return s.format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "yaml"
	}
}
