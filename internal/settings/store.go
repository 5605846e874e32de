package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileStore keeps the settings record in a YAML file. Edits made to the file
// by other processes are picked up without a restart.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current Settings
	v       *viper.Viper
}

// OpenFileStore loads path (a missing file means defaults) and starts
// watching it for changes.
func OpenFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings store requires a path")
	}
	s := &FileStore{path: path, logger: logger, current: Defaults()}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(s.current); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := s.reload(v); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(v); err != nil {
			s.logger.Error().Err(err).Str("file", evt.Name).Msg("settings reload failed")
			return
		}
		s.logger.Info().Str("file", evt.Name).Str("engine", s.Current().Engine).Msg("settings reloaded")
	})
	v.WatchConfig()
	s.v = v
	return s, nil
}

func (s *FileStore) reload(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}
	next, err := Decode(v.AllSettings())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Current implements Source.
func (s *FileStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Save validates and atomically rewrites the settings file.
func (s *FileStore) Save(next Settings) error {
	next.normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(next); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}

	s.mu.Lock()
	s.current = next.Clone()
	s.mu.Unlock()
	return nil
}

// MemoryStore is a Repository without persistence.
type MemoryStore struct {
	mu sync.RWMutex
	s  Settings
}

func NewMemoryStore(s Settings) *MemoryStore {
	s.normalize()
	return &MemoryStore{s: s.Clone()}
}

func (m *MemoryStore) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Clone()
}

func (m *MemoryStore) Save(s Settings) error {
	s.normalize()
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.s = s.Clone()
	m.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current record and saves the result.
func Update(repo Repository, fn func(*Settings)) error {
	s := repo.Current()
	fn(&s)
	return repo.Save(s)
}
