package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
)

// PageLoader loads one page and returns every response observed while doing so.
// The first record is expected to be the page itself.
type PageLoader interface {
	Load(ctx context.Context, task *model.LinkTask) ([]model.RequestRecord, error)
	Mechanism() model.CheckMechanism
}

type Options struct {
	Mechanism      model.CheckMechanism
	Workers        int
	Headers        map[string]string
	PageTimeout    time.Duration
	SettleInterval time.Duration
	SettleMax      time.Duration
	IgnoreStatuses []int
	CacheTtl       time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	Version        string
}

func NewOptions(cfg *config.LinkCheckConfig, wcfg *config.WorkerConfig, version string) (*Options, error) {
	mechanism, err := model.ParseCheckMechanism(cfg.Mechanism)
	if err != nil {
		return nil, err
	}
	opts := &Options{
		Mechanism:      mechanism,
		Workers:        cfg.Workers,
		PageTimeout:    cfg.PageTimeout,
		SettleInterval: cfg.SettleInterval,
		SettleMax:      cfg.SettleMax,
		IgnoreStatuses: cfg.IgnoreStatuses,
		CacheTtl:       cfg.CacheTtl,
		Version:        version,
	}
	if wcfg != nil {
		opts.RetryAttempts = wcfg.RetryAttempts
		opts.RetryDelay = wcfg.RetryDelay
	}

	return opts, nil
}

func (o *Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// Broken reports whether a response status counts as a broken link.
func (o *Options) Broken(status int) bool {
	return status >= http.StatusBadRequest && !slices.Contains(o.IgnoreStatuses, status)
}

type Result struct {
	Pages  []*model.PageReport
	Errors []string
}

func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Messages renders the failures of one page, one line per broken response.
func Messages(p *model.PageReport) []string {
	if p.Error != "" {
		return []string{fmt.Sprintf("WEBDRIVER EXCEPTION for URL '%s'", p.URL)}
	}
	msgs := make([]string, 0, len(p.Broken))
	for _, r := range p.Broken {
		msgs = append(msgs, fmt.Sprintf("ERROR %d -> %s  from %s", r.Status, r.URL, p.URL))
	}

	return msgs
}

// Run checks all urls with a pool of workers and collects the reports in input order.
func Run(ctx context.Context, urls []string, headers map[string]string, loader PageLoader, opts *Options,
	log *slog.Logger) *Result {
	log.Info(fmt.Sprintf("analyzing %d urls.", len(urls)), slog.String("mechanism", loader.Mechanism().String()))

	taskChan := make(chan *model.LinkTask, len(urls))
	for _, u := range urls {
		taskChan <- &model.LinkTask{URL: u, Headers: headers}
	}
	close(taskChan)

	reportChan := make(chan *model.PageReport, len(urls))
	panicChan := make(chan struct{}, opts.workers())
	wg := &sync.WaitGroup{}
	w := &LinkWorker{
		InputChan:  taskChan,
		OutputChan: reportChan,
		PanicChan:  panicChan,
		Loader:     loader,
		Opts:       opts,
		Log:        log,
		Wg:         wg,
	}
	for i := 0; i < opts.workers(); i++ {
		wg.Add(1)
		go w.Run(ctx)
	}
	go func() {
		for range panicChan {
			go w.Run(ctx)
		}
	}()
	go func() {
		wg.Wait()
		close(reportChan)
		close(panicChan)
	}()

	// a url listed twice is checked twice, so every url keeps a queue of reports
	byURL := make(map[string][]*model.PageReport, len(urls))
	i := 0
	for report := range reportChan {
		i++
		log.Info(fmt.Sprintf("analyzed %d/%d.", i, len(urls)), slog.String("url", report.URL))
		byURL[report.URL] = append(byURL[report.URL], report)
	}

	res := &Result{}
	for _, u := range urls {
		queue := byURL[u]
		if len(queue) == 0 {
			continue
		}
		report := queue[0]
		byURL[u] = queue[1:]
		res.Pages = append(res.Pages, report)
		for _, msg := range Messages(report) {
			log.Error(msg)
			res.Errors = append(res.Errors, msg)
		}
	}

	return res
}
