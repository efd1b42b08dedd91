package urlsource

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := writeList(t, dir, "b.txt", "/b1\n\n  /b2  \n")
	writeList(t, dir, "a.txt", "/a1\n")
	writeList(t, dir, "ignored.json", "/nope\n")

	tests := []struct {
		name string
		src  Source
		want []string
	}{
		{name: "url wins", src: Source{URL: " https://x.org/ ", File: file}, want: []string{"https://x.org/"}},
		{name: "file", src: Source{File: file, Folder: dir}, want: []string{"/b1", "/b2"}},
		{name: "folder", src: Source{Folder: dir}, want: []string{"/a1", "/b1", "/b2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(Source{})
	assert.ErrorIs(t, err, ErrNoURLs)

	_, err = Load(Source{Folder: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoURLs)

	_, err = Load(Source{File: filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
}

func TestWithDomain(t *testing.T) {
	got := WithDomain("https://portal.org", []string{"/#/circuits/ca1", "/about"})
	assert.Equal(t, []string{"https://portal.org/#/circuits/ca1", "https://portal.org/about"}, got)

	urls := []string{"/a"}
	assert.Equal(t, urls, WithDomain("", urls))
}

func TestSample(t *testing.T) {
	urls := []string{"a", "b", "c", "d", "e"}
	rnd := rand.New(rand.NewSource(1))

	assert.Equal(t, urls, Sample(urls, 0, rnd))
	assert.Equal(t, urls, Sample(urls, 10, rnd))

	got := Sample(urls, 3, rnd)
	require.Len(t, got, 3)
	seen := map[string]bool{}
	for _, u := range got {
		assert.Contains(t, urls, u)
		assert.False(t, seen[u], "duplicate %s", u)
		seen[u] = true
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, urls, "input must not be reordered")
}
