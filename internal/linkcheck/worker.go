package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
)

type LinkWorker struct {
	InputChan  <-chan *model.LinkTask
	OutputChan chan<- *model.PageReport
	PanicChan  chan struct{}
	Loader     PageLoader
	Opts       *Options
	Log        *slog.Logger
	Wg         *sync.WaitGroup
}

// Run checks pages from the input channel until it is closed. A panicking worker
// reports the page it was working on as failed, signals PanicChan and exits; the
// reader of PanicChan starts a replacement, which is already counted in Wg.
func (w *LinkWorker) Run(ctx context.Context) {
	var current *model.LinkTask
	defer w.Wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			if current != nil {
				w.OutputChan <- &model.PageReport{
					URL:          current.URL,
					Mechanism:    w.Loader.Mechanism().String(),
					Error:        fmt.Sprint(r),
					CheckVersion: w.Opts.Version,
				}
			}
			w.Wg.Add(1)
			w.PanicChan <- struct{}{}
		}
	}()
	w.Log.Debug("starting link worker.")

	for task := range w.InputChan {
		current = task
		w.OutputChan <- w.Check(ctx, task)
		current = nil
	}
}

// Check loads a page and classifies its responses. Pages answered with 429 are
// retried with exponential backoff.
func (w *LinkWorker) Check(ctx context.Context, task *model.LinkTask) *model.PageReport {
	report := &model.PageReport{
		URL:          task.URL,
		Mechanism:    w.Loader.Mechanism().String(),
		CheckVersion: w.Opts.Version,
	}
	start := time.Now()
	defer func() { report.TimeToCheck = time.Since(start).Milliseconds() }()

	requests, err := w.Loader.Load(ctx, task)
	for retry, delay := w.Opts.RetryAttempts, w.Opts.RetryDelay; err == nil && throttled(requests) &&
		retry > 0; retry, delay = retry-1, delay*2 {
		w.Log.Warn("too many requests status code. retrying...", slog.Int("attempts left", retry),
			slog.String("url", task.URL))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			requests, err = w.Loader.Load(ctx, task)
		}
	}
	if err != nil {
		w.Log.Error("page load failed.", slog.String("url", task.URL), slog.String("err", err.Error()))
		report.Error = err.Error()
		return report
	}
	w.Log.Debug(fmt.Sprintf("%s created %d requests.", task.URL, len(requests)))

	report.Requests = requests
	for _, r := range requests {
		if w.Opts.Broken(r.Status) {
			report.Broken = append(report.Broken, r)
		}
	}

	return report
}

func throttled(requests []model.RequestRecord) bool {
	return len(requests) > 0 && requests[0].Status == http.StatusTooManyRequests
}
