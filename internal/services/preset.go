package services

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/pkg/prompts"
)

//go:embed default_preset.yaml
var defaultPreset []byte

// Preset is an ordered block list plus the per-view format guide.
type Preset struct {
	Name        string                `yaml:"name" json:"name"`
	Blocks      []prompts.Block       `yaml:"blocks" json:"blocks"`
	FormatGuide map[string]string     `yaml:"formatGuide" json:"formatGuide"`
	History     prompts.HistoryConfig `yaml:"historyConfig" json:"historyConfig"`
}

// ParsePreset decodes a preset, filling in missing blocks and history limits.
func ParsePreset(data []byte) (*Preset, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("preset is empty")
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset: %w", err)
	}
	if len(p.Blocks) == 0 {
		p.Blocks = prompts.DefaultBlocks()
	}
	if p.History.MaxMessages == 0 {
		p.History.MaxMessages = prompts.DefaultHistoryConfig().MaxMessages
	}
	if p.FormatGuide == nil {
		p.FormatGuide = map[string]string{}
	}
	return &p, nil
}

// DefaultPreset returns the embedded preset.
func DefaultPreset() *Preset {
	p, err := ParsePreset(defaultPreset)
	if err != nil {
		panic(err)
	}
	return p
}

// PresetStore serves the active preset, optionally reloaded from a file.
type PresetStore struct {
	mu      sync.RWMutex
	path    string
	current *Preset
	logger  *slog.Logger
}

// NewPresetStore loads path, or the embedded default if path is empty.
func NewPresetStore(path string, logger *slog.Logger) (*PresetStore, error) {
	s := &PresetStore{path: path, logger: logger, current: DefaultPreset()}
	if path != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Current returns a copy of the active preset.
func (s *PresetStore) Current() Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := *s.current
	p.Blocks = append([]prompts.Block(nil), s.current.Blocks...)
	return p
}

// Reload re-reads the preset file. A broken file leaves the active preset
// in place.
func (s *PresetStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read preset file: %w", err)
	}
	p, err := ParsePreset(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	s.logger.Info("Preset loaded", "path", s.path, "name", p.Name, "blocks", len(p.Blocks))
	return nil
}

// Watch reloads the preset whenever its file is written, until ctx is done.
// The directory is watched so editors that replace the file are handled.
func (s *PresetStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch preset directory: %w", err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("Keeping previous preset", "path", s.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Preset watcher error", "error", err)
		}
	}
}
