// Package catalog loads, validates, and resolves dependencies over the
// declarative policy catalog described in spec.md §3-§4.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-guard/internal/policy"
)

// Loader reads a directory of declarative policy files. Parsing is
// permissive on unknown fields but strict on required ones (spec.md §4.1).
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu sync.Mutex
}

// NewLoader creates a new catalog loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "catalog-loader").Logger()}
}

// LoadDirectory loads every *.yaml/*.yml file under dir, including its
// subdirectories, into a slice of parsed, unvalidated policies.
func (l *Loader) LoadDirectory(_ context.Context, dir string) ([]policy.Policy, error) {
	var policies []policy.Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		p, loadErr := l.loadFile(path)
		if loadErr != nil {
			return fmt.Errorf("load %s: %w", path, loadErr)
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk catalog directory: %w", err)
	}

	l.logger.Info().Int("count", len(policies)).Str("dir", dir).Msg("catalog files loaded")
	return policies, nil
}

func (l *Loader) loadFile(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Decode through a generic map rather than straight into policy.Policy:
	// json.RawMessage (used for mechanism_params) has no UnmarshalYAML
	// method, so yaml.v3 cannot decode a mapping node directly into it.
	// Round-tripping through encoding/json lets mechanism_params reuse
	// Policy's existing json tags and RawMessage's json.Unmarshaler.
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-encode policy as json: %w", err)
	}

	var p policy.Policy
	if err := json.Unmarshal(asJSON, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &p, nil
}

// Watch watches dir for changes and invokes reloadFn on every write,
// create, remove, or rename event, grounded on the teacher's
// policy.Loader.Watch fsnotify pattern. Events are not debounced: a burst
// of changes triggers one reload per event.
func (l *Loader) Watch(ctx context.Context, dir string, reloadFn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	if err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		l.logger.Warn().Err(err).Msg("failed to add catalog directory to watcher")
	}

	go l.processEvents(ctx, watcher, reloadFn)
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, reloadFn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.logger.Info().Str("path", event.Name).Msg("catalog change detected, reloading")
				reloadFn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("catalog watcher error")
		}
	}
}

// StopWatching closes the underlying filesystem watcher, if any.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
