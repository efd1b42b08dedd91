package domcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/browser"
	"github.com/IliaW/portal-checker/internal/model"
	"github.com/IliaW/portal-checker/internal/poll"
	"github.com/IliaW/portal-checker/internal/urlsource"
)

// Prober is the part of a browser tab the checker needs. Each worker owns one.
type Prober interface {
	Open(url string) error
	ElementExists(loc model.Locator) (bool, error)
	Screenshot(path string) error
	Close()
}

type Options struct {
	Domain        string
	Number        int
	UseAll        bool
	Group         string
	Wait          time.Duration
	Interval      time.Duration
	Delay         time.Duration
	Workers       int
	Output        string
	ScreenshotDir string
	Screenshots   bool
}

func NewOptions(cfg *config.DomCheckConfig, bcfg *config.BrowserConfig) *Options {
	return &Options{
		Number:        cfg.Number,
		Wait:          cfg.Wait,
		Interval:      bcfg.PollInterval,
		Delay:         cfg.Delay,
		Workers:       cfg.Workers,
		Output:        cfg.Output,
		ScreenshotDir: bcfg.ScreenshotDir,
	}
}

type Failure struct {
	Site    string
	URL     string
	Missing []model.Locator
}

func (f *Failure) Line() string {
	missing := make([]string, len(f.Missing))
	for i, m := range f.Missing {
		missing[i] = m.String()
	}
	return fmt.Sprintf("%s -> %s: [%s]\n", f.Site, f.URL, strings.Join(missing, ", "))
}

type Result struct {
	Checked  int
	Failures []*Failure
}

func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

type job struct {
	site     string
	url      string
	elements []model.Locator
}

type Checker struct {
	opts      *Options
	newProber func() (Prober, error)
	rnd       *rand.Rand
	log       *slog.Logger
	mu        sync.Mutex
}

func NewChecker(opts *Options, newProber func() (Prober, error), log *slog.Logger) *Checker {
	return &Checker{
		opts:      opts,
		newProber: newProber,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log,
	}
}

// Run samples the pages of every site and checks them with a pool of workers.
// Failures are appended to the output file as they are found.
func (c *Checker) Run(ctx context.Context, params Params) (*Result, error) {
	jobs, err := c.jobs(params)
	if err != nil {
		return nil, err
	}
	workers := min(max(c.opts.Workers, 1), max(len(jobs), 1))

	jobChan := make(chan *job, len(jobs))
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)

	res := &Result{}
	errChan := make(chan error, workers)
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.work(ctx, jobChan, res); err != nil {
				errChan <- err
			}
		}()
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	return res, errors.Join(errs...)
}

func (c *Checker) jobs(params Params) ([]*job, error) {
	var jobs []*job
	for _, site := range params.Sites(c.opts.Group) {
		p := params[site]
		urls, err := urlsource.ReadFile(p.URLs)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site, err)
		}
		if !c.opts.UseAll {
			urls = urlsource.Sample(urls, c.opts.Number, c.rnd)
		}
		c.log.Info(fmt.Sprintf("analyzing %d urls for %s.", len(urls), site))
		elements := p.Elements()
		for _, u := range urls {
			jobs = append(jobs, &job{site: site, url: u, elements: elements})
		}
	}

	return jobs, nil
}

func (c *Checker) work(ctx context.Context, jobs <-chan *job, res *Result) error {
	prober, err := c.newProber()
	if err != nil {
		return fmt.Errorf("failed to open browser tab: %w", err)
	}
	defer prober.Close()

	first := true
	for j := range jobs {
		if !first && c.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.Delay):
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			return err
		}
		failure := c.check(ctx, prober, j)

		c.mu.Lock()
		res.Checked++
		if failure != nil {
			res.Failures = append(res.Failures, failure)
			if err := c.appendOutput(failure); err != nil {
				c.log.Error("failed to write dom check output.", slog.String("err", err.Error()))
			}
		}
		c.mu.Unlock()
	}

	return nil
}

// check opens the page and polls until every element showed up at least once.
func (c *Checker) check(ctx context.Context, prober Prober, j *job) *Failure {
	complete := c.opts.Domain + j.url
	found := make([]bool, len(j.elements))
	start := time.Now()

	if err := prober.Open(complete); err != nil {
		c.log.Error("failed to open page.", slog.String("url", complete), slog.String("err", err.Error()))
	} else {
		err = poll.Until(ctx, poll.Options{Timeout: c.opts.Wait, Interval: c.opts.Interval},
			func(context.Context) (bool, error) {
				for i, el := range j.elements {
					if found[i] {
						continue
					}
					ok, err := prober.ElementExists(el)
					if err != nil {
						c.log.Debug("element lookup failed.", slog.String("url", complete),
							slog.String("element", el.String()), slog.String("err", err.Error()))
					}
					found[i] = ok
				}
				return !slices.Contains(found, false), nil
			})
		if err == nil {
			c.log.Info(fmt.Sprintf("all elements found for %s after %.0f s.", j.site, time.Since(start).Seconds()),
				slog.String("url", complete))
			if c.opts.Screenshots {
				c.screenshot(prober, j.url)
			}
			return nil
		}
	}

	failure := &Failure{Site: j.site, URL: j.url}
	for i, el := range j.elements {
		if !found[i] {
			failure.Missing = append(failure.Missing, el)
			c.log.Error("element not found.", slog.String("site", j.site), slog.String("url", complete),
				slog.String("element", el.String()))
		}
	}
	c.screenshot(prober, j.url)

	return failure
}

func (c *Checker) screenshot(prober Prober, urlPath string) {
	path := filepath.Join(c.opts.ScreenshotDir, browser.ScreenshotName(urlPath))
	if err := prober.Screenshot(path); err != nil {
		c.log.Warn("failed to save screenshot.", slog.String("path", path), slog.String("err", err.Error()))
	}
}

func (c *Checker) appendOutput(f *Failure) error {
	if c.opts.Output == "" {
		return nil
	}
	out, err := os.OpenFile(c.opts.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.WriteString(f.Line())

	return err
}
