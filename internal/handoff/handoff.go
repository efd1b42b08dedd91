package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/internal/cache"
)

var ErrNotFound = errors.New("hand-off value not found")

// Store passes a small value (a job URL, a job name) from the run that starts a job
// to the later run that checks it.
type Store interface {
	Write(ctx context.Context, key, value string) error
	Read(ctx context.Context, key string) (string, error)
}

// FileStore keeps one file per key, named after the key.
type FileStore struct {
	dir string
	log *slog.Logger
}

func NewFileStore(dir string, log *slog.Logger) *FileStore {
	return &FileStore{dir: dir, log: log}
}

func (s *FileStore) Write(_ context.Context, key, value string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	s.log.Debug(fmt.Sprintf("writing to file %s: '%s'", key, value))
	return os.WriteFile(filepath.Join(s.dir, key), []byte(value), 0644)
}

func (s *FileStore) Read(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", err
	}
	value := strings.TrimSpace(string(data))
	s.log.Debug(fmt.Sprintf("reading from file %s: '%s'", key, value))

	return value, nil
}

type MemcachedStore struct {
	client cache.CachedClient
	ttl    time.Duration
}

func NewMemcachedStore(client cache.CachedClient, ttl time.Duration) *MemcachedStore {
	return &MemcachedStore{client: client, ttl: ttl}
}

func (s *MemcachedStore) Write(_ context.Context, key, value string) error {
	return s.client.Set(key, value, s.ttl)
}

func (s *MemcachedStore) Read(_ context.Context, key string) (string, error) {
	value, err := s.client.Get(key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(value), nil
}
