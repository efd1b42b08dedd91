package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSummary(t *testing.T) {
	s := NewSummary(discard)
	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(&model.CheckResult{Name: name, Passed: true})
		}()
	}
	wg.Wait()
	assert.True(t, s.Passed())
	assert.NoError(t, s.Err())
	assert.Len(t, s.Results(), 3)

	s.Add(&model.CheckResult{Name: "check_simui", Step: "Wait for 'SUCCESSFUL'"})
	assert.False(t, s.Passed())
	assert.ErrorIs(t, s.Err(), ErrChecksFailed)
	assert.Contains(t, s.Text(), "check_simui ... TEST FAILED: Wait for 'SUCCESSFUL'\n")
}

type recordingSink struct {
	name string
	err  error
	got  []*model.CheckResult
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, results []*model.CheckResult) error {
	r.got = results
	return r.err
}

func TestFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "service_results.txt")
	s := NewSummary(discard)
	s.Add(&model.CheckResult{Name: "grade_submission", Passed: true})
	s.Add(&model.CheckResult{Name: "start_simui", Step: "Wait for 'QUEUED'"})

	broken := &recordingSink{name: "db", err: errors.New("db down")}
	stream := &recordingSink{name: "kafka"}
	err := s.Finish(context.Background(), path, broken, nil, stream)

	assert.ErrorIs(t, err, ErrChecksFailed)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "grade_submission ... OK\nstart_simui ... TEST FAILED: Wait for 'QUEUED'\n", string(data))
	assert.Len(t, broken.got, 2)
	assert.Len(t, stream.got, 2, "a failing sink does not stop the others")
}

func TestSlackReport(t *testing.T) {
	var mu sync.Mutex
	got := map[string]slack.WebhookMessage{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		require.NoError(t, jsoniter.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		got[r.URL.Path] = msg
		mu.Unlock()
	}))
	defer srv.Close()

	errFile := filepath.Join(t.TempDir(), "errors.list")
	require.NoError(t, os.WriteFile(errFile, []byte("ERROR 404 -> https://p.org/x  from https://p.org/\n"), 0644))

	s := NewSlack(&config.SlackConfig{OkURL: srv.URL + "/ok", ErrorURL: srv.URL + "/err"}, discard)
	require.NoError(t, s.Report(context.Background(), "SSCX", 0, ""))
	require.NoError(t, s.Report(context.Background(), "SSCX", 1, errFile))

	assert.Equal(t, slack.WebhookMessage{Username: "SSCX", IconEmoji: ":frog:", Text: "SSCX OK"}, got["/ok"])
	assert.Equal(t, ":crab:", got["/err"].IconEmoji)
	assert.Equal(t, "*** SSCX ERROR:\nERROR 404 -> https://p.org/x  from https://p.org/\n", got["/err"].Text)
}

func TestSlackReportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlack(&config.SlackConfig{OkURL: srv.URL, ErrorURL: ""}, discard)
	assert.Error(t, s.Report(context.Background(), "x", 0, ""), "non 2xx answer")
	assert.Error(t, s.Report(context.Background(), "x", 2, "missing"), "no error webhook")

	s = NewSlack(&config.SlackConfig{OkURL: srv.URL, ErrorURL: srv.URL}, discard)
	assert.Error(t, s.Report(context.Background(), "x", 1, filepath.Join(t.TempDir(), "missing")))
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "validate.log")
	content := "checking 'a'\n  error: 'foo' is \"bar\"\nnot found: 'baz'\nfine\n"
	require.NoError(t, os.WriteFile(in, []byte(content), 0644))

	var out bytes.Buffer
	dest, err := Convert(in, &out, filepath.Join(dir, "reports"), "17")
	require.NoError(t, err)

	assert.Equal(t, "error: foo is bar\nnot found: baz\n", out.String())
	assert.Equal(t, filepath.Join(dir, "reports", "report17.txt"), dest)
	copied, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(copied))
}
