package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/IliaW/portal-checker/internal/model"
)

var ErrChecksFailed = errors.New("checks failed")

// Summary accumulates the results of a suite. It is safe for concurrent use.
type Summary struct {
	mu      sync.Mutex
	results []*model.CheckResult
	log     *slog.Logger
}

func NewSummary(log *slog.Logger) *Summary {
	return &Summary{log: log}
}

func (s *Summary) Add(r *model.CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	if r.Passed {
		s.log.Info(strings.TrimSpace(r.Line()))
	} else {
		s.log.Error(strings.TrimSpace(r.Line()))
	}
}

func (s *Summary) Results() []*model.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CheckResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Summary) Text() string {
	var b strings.Builder
	for _, r := range s.Results() {
		b.WriteString(r.Line())
	}
	return b.String()
}

func (s *Summary) failed() int {
	n := 0
	for _, r := range s.Results() {
		if !r.Passed {
			n++
		}
	}
	return n
}

func (s *Summary) Passed() bool {
	return s.failed() == 0
}

func (s *Summary) Err() error {
	if n := s.failed(); n > 0 {
		return fmt.Errorf("%w: %d of %d", ErrChecksFailed, n, len(s.Results()))
	}
	return nil
}

func (s *Summary) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(s.Text()), 0644)
}

// Finish writes the results file, hands the results to the sinks and returns the
// suite verdict.
func (s *Summary) Finish(ctx context.Context, path string, sinks ...Sink) error {
	if path != "" {
		if err := s.WriteFile(path); err != nil {
			s.log.Error("failed to write results file.", slog.String("err", err.Error()))
		}
	}
	if err := Publish(ctx, s.Results(), sinks, s.log); err != nil {
		s.log.Warn("failed to publish results.", slog.String("err", err.Error()))
	}
	if !s.Passed() {
		s.log.Error(strings.Repeat("=", 40))
		s.log.Error("THERE WERE FAILED TESTS")
		s.log.Error(strings.Repeat("=", 40))
	}

	return s.Err()
}
