package domcheck

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSite maps a url to the number of probes after which each element appears;
// a missing entry means the element never appears.
type fakeSite struct {
	mu          sync.Mutex
	pages       map[string]map[model.Locator]int
	screenshots []string
	opened      []string
	openedAt    []time.Time
	errs        map[model.Locator]error
}

type fakeProber struct {
	site   *fakeSite
	url    string
	probes map[model.Locator]int
}

func (p *fakeProber) Open(url string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.url = url
	p.probes = map[model.Locator]int{}
	p.site.opened = append(p.site.opened, url)
	p.site.openedAt = append(p.site.openedAt, time.Now())
	return nil
}

func (p *fakeProber) ElementExists(loc model.Locator) (bool, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.probes[loc]++
	if err := p.site.errs[loc]; err != nil {
		return false, err
	}
	after, ok := p.site.pages[p.url][loc]
	return ok && p.probes[loc] >= after, nil
}

func (p *fakeProber) Screenshot(path string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.screenshots = append(p.site.screenshots, path)
	return nil
}

func (p *fakeProber) Close() {}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "params.json", `{
		"nmc": {"urls": "nmc.txt", "ids": ["header"], "classes": ["footer"], "group": "portals"},
		"atlas": {"urls": "atlas.txt", "ids": [], "classes": [], "xpaths": ["//canvas"]}
	}`)

	params, err := LoadParams(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"atlas", "nmc"}, params.Sites(""))
	assert.Equal(t, []string{"nmc"}, params.Sites("portals"))
	assert.Equal(t, []model.Locator{model.ID("header"), {By: model.ByClassName, Value: "footer"}},
		params["nmc"].Elements())
	assert.Equal(t, []model.Locator{model.XPath("//canvas")}, params["atlas"].Elements())

	bad := writeFile(t, dir, "bad.json", `{"x": {"ids": ["a"]}}`)
	_, err = LoadParams(bad)
	assert.Error(t, err)
}

func TestCheckerRun(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "nmc.txt", "/page?id=1\n/page?id=2\n/slow\n")
	params := Params{"nmc": {URLs: list, IDs: []string{"header"}, Classes: []string{"footer"}}}
	site := &fakeSite{pages: map[string]map[model.Locator]int{
		"https://portal.org/page?id=1": {model.ID("header"): 1, {By: model.ByClassName, Value: "footer"}: 3},
		"https://portal.org/page?id=2": {model.ID("header"): 1},
		"https://portal.org/slow":      {model.ID("header"): 1000, {By: model.ByClassName, Value: "footer"}: 1},
	}}
	output := filepath.Join(dir, "page_dom_check.log")
	opts := &Options{
		Domain:        "https://portal.org",
		UseAll:        true,
		Wait:          100 * time.Millisecond,
		Interval:      5 * time.Millisecond,
		Workers:       2,
		Output:        output,
		ScreenshotDir: filepath.Join(dir, "shots"),
	}
	c := NewChecker(opts, func() (Prober, error) { return &fakeProber{site: site}, nil }, discard)

	res, err := c.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Checked)
	require.Len(t, res.Failures, 2)
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].URL < res.Failures[j].URL })
	assert.Equal(t, "nmc -> /page?id=2: [(class name, footer)]\n", res.Failures[0].Line())
	assert.Equal(t, "nmc -> /slow: [(id, header)]\n", res.Failures[1].Line())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nmc -> /slow: [(id, header)]\n")
	assert.Contains(t, string(data), "nmc -> /page?id=2: [(class name, footer)]\n")

	sort.Strings(site.screenshots)
	assert.Equal(t, []string{
		filepath.Join(dir, "shots", "page_id_2.png"),
		filepath.Join(dir, "shots", "slow.png"),
	}, site.screenshots)
}

func TestCheckerSamplesAndFiltersGroup(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "a.txt", "/1\n/2\n/3\n/4\n/5\n/6\n")
	other := writeFile(t, dir, "b.txt", "/x\n")
	params := Params{
		"a": {URLs: list, Group: "g1"},
		"b": {URLs: other, Group: "g2"},
	}
	site := &fakeSite{}
	opts := &Options{Number: 2, Group: "g1", Workers: 1, Wait: time.Millisecond, Screenshots: true}
	c := NewChecker(opts, func() (Prober, error) { return &fakeProber{site: site}, nil }, discard)

	res, err := c.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.False(t, res.Failed())
	assert.Len(t, site.opened, 2)
	assert.Len(t, site.screenshots, 2, "screenshots on success when requested")
	for _, u := range site.opened {
		assert.NotEqual(t, "/x", u)
	}
}

func TestCheckerWaitsBetweenPages(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "a.txt", "/1\n/2\n/3\n")
	params := Params{"a": {URLs: list}}
	site := &fakeSite{}
	opts := &Options{UseAll: true, Workers: 1, Wait: time.Millisecond, Delay: 50 * time.Millisecond}
	c := NewChecker(opts, func() (Prober, error) { return &fakeProber{site: site}, nil }, discard)

	res, err := c.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	require.Len(t, site.openedAt, 3)
	for i := 1; i < len(site.openedAt); i++ {
		assert.GreaterOrEqual(t, site.openedAt[i].Sub(site.openedAt[i-1]), opts.Delay)
	}
}

func TestCheckerDelayStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "a.txt", "/1\n/2\n")
	params := Params{"a": {URLs: list}}
	site := &fakeSite{}
	opts := &Options{UseAll: true, Workers: 1, Wait: time.Millisecond, Delay: time.Minute}
	c := NewChecker(opts, func() (Prober, error) { return &fakeProber{site: site}, nil }, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Run(ctx, params)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, site.opened, 1)
}

func TestCheckerLogsFailedLookups(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "a.txt", "/page\n")
	params := Params{"a": {URLs: list, IDs: []string{"header"}, Classes: []string{"footer"}}}
	site := &fakeSite{
		pages: map[string]map[model.Locator]int{"/page": {{By: model.ByClassName, Value: "footer"}: 1}},
		errs:  map[model.Locator]error{model.ID("header"): errors.New("tab crashed")},
	}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts := &Options{UseAll: true, Workers: 1, Wait: 20 * time.Millisecond, Interval: 5 * time.Millisecond}
	c := NewChecker(opts, func() (Prober, error) { return &fakeProber{site: site}, nil }, log)

	res, err := c.Run(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a -> /page: [(id, header)]\n", res.Failures[0].Line())
	assert.Contains(t, buf.String(), "element lookup failed.")
	assert.Contains(t, buf.String(), "tab crashed")
}
