package handoff

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IliaW/portal-checker/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "handoff")
	s := NewFileStore(dir, discard)
	ctx := context.Background()

	_, err := s.Read(ctx, "SIMUI.INFO")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "SIMUI.INFO", "https://sim.org/job/42"))
	got, err := s.Read(ctx, "SIMUI.INFO")
	require.NoError(t, err)
	assert.Equal(t, "https://sim.org/job/42", got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "PSPAPP.INFO"), []byte("1718000000\n"), 0644))
	got, err = s.Read(ctx, "PSPAPP.INFO")
	require.NoError(t, err)
	assert.Equal(t, "1718000000", got)
}

type mapCache struct {
	values map[string]string
	ttl    time.Duration
}

func (m *mapCache) Get(key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(key, value string, ttl time.Duration) error {
	m.values[key] = value
	m.ttl = ttl
	return nil
}

func (m *mapCache) Close() {}

func TestMemcachedStore(t *testing.T) {
	c := &mapCache{values: map[string]string{}}
	s := NewMemcachedStore(c, time.Hour)
	ctx := context.Background()

	_, err := s.Read(ctx, "SIMUI_CA1.INFO")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "SIMUI_CA1.INFO", "https://launcher.org/#/jobs/7 "))
	got, err := s.Read(ctx, "SIMUI_CA1.INFO")
	require.NoError(t, err)
	assert.Equal(t, "https://launcher.org/#/jobs/7", got)
	assert.Equal(t, time.Hour, c.ttl)
}
