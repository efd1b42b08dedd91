package perf

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/portal-checker/config"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAPI answers like GTmetrix: every test turns into a report after one poll.
type fakeAPI struct {
	mu      sync.Mutex
	started []map[string]string
	polls   map[string]int
	forms   []map[string]string
	credits string
	nextID  atomic.Int32
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		_, _ = io.WriteString(w, `{"data":{"type":"user","id":"1","attributes":{"api_credits":`+f.credits+`}}}`)
	})
	mux.HandleFunc("/api/tests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))
		var body struct {
			Data struct {
				Attributes map[string]string `json:"attributes"`
			} `json:"data"`
		}
		assert.NoError(t, jsoniter.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.started = append(f.started, body.Data.Attributes)
		f.mu.Unlock()
		id := "t" + strconv.Itoa(int(f.nextID.Add(1)))
		_, _ = io.WriteString(w, `{"data":{"type":"test","id":"`+id+`","attributes":{"state":"queued"}}}`)
	})
	mux.HandleFunc("/api/tests/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/tests/")
		f.mu.Lock()
		f.polls[id]++
		n := f.polls[id]
		f.mu.Unlock()
		if n < 2 {
			_, _ = io.WriteString(w, `{"data":{"type":"test","id":"`+id+`","attributes":{"state":"started"}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"type":"report","id":"`+id+`","attributes":{
			"time_to_first_byte":120,"first_contentful_paint":850.5,"dom_content_loaded_time":900,
			"onload_time":1500,"fully_loaded_time":2100,"page_requests":42,"page_bytes":1048576}}}`)
	})
	mux.HandleFunc("/form", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		fields := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f.mu.Lock()
		f.forms = append(f.forms, fields)
		f.mu.Unlock()
	})
	return mux
}

func setup(t *testing.T, credits string) (*fakeAPI, *config.PerfConfig) {
	api := &fakeAPI{polls: map[string]int{}, credits: credits}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	cfg := &config.PerfConfig{
		BaseURL:      srv.URL + "/api",
		ApiKey:       "key",
		FormEndpoint: srv.URL + "/form",
		PollInterval: time.Millisecond,
		MaxWorkers:   2,
		Browser:      3,
		AuthLogin:    "guest",
		AuthPassword: "pw",
	}
	return api, cfg
}

func TestClient(t *testing.T) {
	_, cfg := setup(t, "149.5")
	c := NewClient(cfg, discard)
	ctx := context.Background()

	assert.Equal(t, 149.5, c.Credits(ctx))

	id, err := c.StartTest(ctx, "https://portal.org/", 2, nil)
	require.NoError(t, err)
	require.NoError(t, c.WaitTest(ctx, id))
	m, err := c.Metrics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &Metrics{
		TimeToFirstByte:      120,
		FirstContentfulPaint: 850.5,
		DomContentLoadedTime: 900,
		OnloadTime:           1500,
		FullyLoadedTime:      2100,
		PageRequests:         42,
		PageBytes:            1048576,
	}, m)
}

func TestCreditsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	}))
	defer srv.Close()
	c := NewClient(&config.PerfConfig{BaseURL: srv.URL}, discard)
	assert.Equal(t, float64(-1), c.Credits(context.Background()))
}

func TestRunnerAllLocations(t *testing.T) {
	api, cfg := setup(t, "100")
	r := NewRunner(NewClient(cfg, discard), cfg, discard)
	r.now = func() time.Time { return time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC) }
	params := &Params{Domain: "https://portal.org", URLs: []string{"/", "/about"}}

	results, err := r.Run(context.Background(), params, "SSCX", false)
	require.NoError(t, err)

	assert.Len(t, results, len(Locations)*2)
	require.Len(t, api.started, 8)
	for _, s := range api.started {
		assert.Equal(t, "guest", s["httpauth_username"])
		assert.Equal(t, "3", s["browser"])
		assert.Equal(t, "none", s["report"])
	}
	require.Len(t, api.forms, 8)
	form := api.forms[0]
	assert.Equal(t, "SSCX", form["entry.231103326"])
	assert.Equal(t, "20240610_083000", form["entry.730635873"])
	assert.Equal(t, "850.5", form["entry.233018127"])
	assert.Equal(t, "42", form["entry.914840766"])
	assert.Equal(t, "1048576", form["entry.1179656135"])
}

func TestRunnerTestMode(t *testing.T) {
	api, cfg := setup(t, "100")
	r := NewRunner(NewClient(cfg, discard), cfg, discard)
	params := &Params{Domain: "https://portal.org", URLs: []string{"/", "/about"}}

	results, err := r.Run(context.Background(), params, "SSCX", true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Vancouver, CA", results[0].Location)
	assert.Equal(t, "https://portal.org/", results[0].URL)
	assert.Equal(t, "1", api.started[0]["location"])
}

func TestRunnerWithoutCredits(t *testing.T) {
	_, cfg := setup(t, "0")
	r := NewRunner(NewClient(cfg, discard), cfg, discard)
	_, err := r.Run(context.Background(), &Params{URLs: []string{"/"}}, "x", true)
	assert.ErrorIs(t, err, ErrNoCredits)
}

func TestLoadParams(t *testing.T) {
	file := filepath.Join(t.TempDir(), "perf.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"domain": "https://portal.org", "urls": ["/", "/x"]}`), 0644))
	p, err := LoadParams(file)
	require.NoError(t, err)
	assert.Equal(t, &Params{Domain: "https://portal.org", URLs: []string{"/", "/x"}}, p)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"domain": "x"}`), 0644))
	_, err = LoadParams(empty)
	assert.Error(t, err)
}
