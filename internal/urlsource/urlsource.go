package urlsource

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoURLs = errors.New("must specify either an url, a file or a folder with url lists")

// Source names where the URLs come from. The first non-empty field wins: URL, File, Folder.
type Source struct {
	URL    string
	File   string
	Folder string
}

func Load(src Source) ([]string, error) {
	switch {
	case src.URL != "":
		return []string{strings.TrimSpace(src.URL)}, nil
	case src.File != "":
		return ReadFile(src.File)
	case src.Folder != "":
		files, err := filepath.Glob(filepath.Join(src.Folder, "*.txt"))
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no *.txt file in %s", ErrNoURLs, src.Folder)
		}
		sort.Strings(files)
		var urls []string
		for _, f := range files {
			lines, err := ReadFile(f)
			if err != nil {
				return nil, err
			}
			urls = append(urls, lines...)
		}
		return urls, nil
	default:
		return nil, ErrNoURLs
	}
}

// ReadFile returns the non-blank lines of a URL list, trimmed.
func ReadFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return urls, nil
}

// WithDomain prefixes every URL with the domain. The strings are concatenated, not
// resolved, so that fragment routes like "/#/circuits" survive.
func WithDomain(domain string, urls []string) []string {
	if domain == "" {
		return urls
	}
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = domain + u
	}

	return out
}

// Sample picks n distinct URLs at random. n <= 0 or n >= len(urls) keeps them all.
func Sample(urls []string, n int, rnd *rand.Rand) []string {
	if n <= 0 || n >= len(urls) {
		out := make([]string, len(urls))
		copy(out, urls)
		return out
	}
	perm := rnd.Perm(len(urls))[:n]
	out := make([]string, n)
	for i, p := range perm {
		out[i] = urls[p]
	}

	return out
}
