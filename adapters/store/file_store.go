package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
	"github.com/sirupsen/logrus"
)

// FileStore keeps the entries in a JSON document on disk. Writes replace
// the file atomically, so other processes never read a partial token.
type FileStore struct {
	path  string
	keys  Keys
	clock clockwork.Clock

	mu    sync.Mutex
	known []byte
}

func NewFileStore(path string, keys Keys, clock clockwork.Clock) *FileStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileStore{path: path, keys: keys, clock: clock}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Token(ctx context.Context) (*core.Token, error) {
	values, err := s.read()
	if err != nil {
		return nil, err
	}
	value, ok := values[s.keys.Token()]
	if !ok {
		return nil, nil
	}
	return decodeToken(value)
}

func (s *FileStore) ExpiresAt(ctx context.Context) (time.Time, error) {
	values, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	value, ok := values[s.keys.ExpiresAt()]
	if !ok {
		return time.Time{}, nil
	}
	return decodeInstant(value)
}

// TokenPair decodes the token and its expiry from a single read of the file.
func (s *FileStore) TokenPair(ctx context.Context) (*core.Token, time.Time, error) {
	values, err := s.read()
	if err != nil {
		return nil, time.Time{}, err
	}
	return s.keys.decodePair(values)
}

func (s *FileStore) StoreToken(ctx context.Context, tok core.Token) (time.Time, error) {
	token, expiresAt, instant, err := encodeToken(tok, s.clock.Now())
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.readLocked()
	if err != nil {
		return time.Time{}, err
	}
	values[s.keys.Token()] = token
	values[s.keys.ExpiresAt()] = instant
	if err := s.writeLocked(values); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.readLocked()
	if err != nil {
		return err
	}
	delete(values, s.keys.Token())
	delete(values, s.keys.ExpiresAt())
	return s.writeLocked(values)
}

func (s *FileStore) read() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStore) readLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.known = nil
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	s.known = data

	values := map[string]string{}
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: token file is not a JSON object: %v", core.ErrInvalidToken, err)
	}
	return values, nil
}

func (s *FileStore) writeLocked(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	s.known = data
	return nil
}

// changed reports whether the file differs from what this store last
// read or wrote.
func (s *FileStore) changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return true
	}
	return !bytes.Equal(data, s.known)
}

// Watch calls onChange whenever another process modifies the token file.
// It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, logger logrus.FieldLogger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&relevant == 0 {
				continue
			}
			if !s.changed() {
				continue
			}
			logger.WithField("op", ev.Op.String()).Info("token file changed on disk")
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("token file watcher error")
		}
	}
}
