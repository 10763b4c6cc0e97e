package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"vigil-go/internal/detect"
	"vigil-go/internal/domain"
)

// RulesFile is the on-disk shape of the threshold-rule set and the
// security detection patterns.
type RulesFile struct {
	Rules    []*domain.ThresholdRule `yaml:"rules"`
	Patterns []detect.Pattern        `yaml:"patterns"`
}

// LoadRules reads and validates the rules file. Invalid rules fail the
// whole load so a bad edit never silently drops rules.
func LoadRules(path string) (*RulesFile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rf := &RulesFile{}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for _, rule := range rf.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule %q: %w", rule.ID, err)
		}
	}
	return rf, nil
}

// WatchRules watches the rules file and calls onChange with each
// successfully reloaded rule set. Parse failures keep the previous set and
// are logged. Blocks until the context is canceled.
func WatchRules(ctx context.Context, path string, logger *slog.Logger, onChange func(*RulesFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file by rename (atomic
	// save), which would detach a direct file watch.
	dir := filepath.Dir(filepath.Clean(path))
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rf, err := LoadRules(path)
			if err != nil {
				logger.Error("rules reload failed, keeping previous set",
					"path", path, "error", err)
				continue
			}
			logger.Info("rules reloaded", "path", path, "rules", len(rf.Rules))
			onChange(rf)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("rules watcher error", "error", err)
		}
	}
}
