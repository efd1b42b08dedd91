package perf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/config"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	Domain string   `json:"domain"`
	URLs   []string `json:"urls"`
}

func LoadParams(file string) (*Params, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read params: %w", err)
	}
	var p Params
	if err = jsoniter.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse params %s: %w", file, err)
	}
	if len(p.URLs) == 0 {
		return nil, fmt.Errorf("no urls in %s", file)
	}

	return &p, nil
}

type Measurement struct {
	Portal    string
	Timestamp string
	URL       string
	Location  string
	TestID    string
	*Metrics
}

// formFields maps a measurement onto the entry ids of the results form.
func (m *Measurement) formFields() [][2]string {
	return [][2]string{
		{"entry.231103326", m.Portal},
		{"entry.730635873", m.Timestamp},
		{"entry.2044683746", m.URL},
		{"entry.537616198", m.Location},
		{"entry.1913486253", m.TestID},
		{"entry.2051253403", formatFloat(m.TimeToFirstByte)},
		{"entry.233018127", formatFloat(m.FirstContentfulPaint)},
		{"entry.1934771090", formatFloat(m.DomContentLoadedTime)},
		{"entry.1055212914", formatFloat(m.OnloadTime)},
		{"entry.2050306922", formatFloat(m.FullyLoadedTime)},
		{"entry.914840766", strconv.Itoa(m.PageRequests)},
		{"entry.1179656135", strconv.FormatInt(m.PageBytes, 10)},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Runner measures every URL from every location, at most MaxWorkers locations at a time.
type Runner struct {
	client *Client
	cfg    *config.PerfConfig
	http   *http.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewRunner(client *Client, cfg *config.PerfConfig, log *slog.Logger) *Runner {
	return &Runner{
		client: client,
		cfg:    cfg,
		http:   &http.Client{Timeout: time.Minute},
		log:    log,
		now:    time.Now,
	}
}

func (r *Runner) auth() *BasicAuth {
	if r.cfg.AuthLogin == "" || r.cfg.AuthPassword == "" {
		return nil
	}
	return &BasicAuth{Username: r.cfg.AuthLogin, Password: r.cfg.AuthPassword}
}

// Run measures the pages. In test mode only the first URL from the first location is measured.
func (r *Runner) Run(ctx context.Context, params *Params, portal string, testMode bool) ([]*Measurement, error) {
	credits := r.client.Credits(ctx)
	r.log.Info(fmt.Sprintf("credits left for testing: %v", credits))
	if credits == 0 {
		return nil, ErrNoCredits
	}

	urls, locations := params.URLs, Locations
	if testMode {
		urls, locations = urls[:1], locations[:1]
	}
	timestamp := r.now().Format("20060102_150405")

	queue := make(chan Location, len(locations))
	for _, l := range locations {
		queue <- l
	}
	close(queue)

	var mu sync.Mutex
	var results []*Measurement
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < min(len(locations), max(r.cfg.MaxWorkers, 1)); i++ {
		g.Go(func() error {
			for loc := range queue {
				for _, u := range urls {
					if err := gctx.Err(); err != nil {
						return err
					}
					m, err := r.measure(gctx, params.Domain+u, loc, portal, timestamp)
					if err != nil {
						r.log.Error("measurement failed.", slog.String("location", loc.Name),
							slog.String("url", params.Domain+u), slog.String("err", err.Error()))
						continue
					}
					mu.Lock()
					results = append(results, m)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	err := g.Wait()
	r.log.Info(fmt.Sprintf("credits left for testing: %v", r.client.Credits(ctx)))

	return results, err
}

func (r *Runner) measure(ctx context.Context, url string, loc Location, portal, timestamp string) (*Measurement, error) {
	id, err := r.client.StartTest(ctx, url, loc.ID, r.auth())
	if err != nil {
		return nil, err
	}
	r.log.Info(fmt.Sprintf("started test for %s: %s", loc.Name, url))
	if err = r.client.WaitTest(ctx, id); err != nil {
		return nil, err
	}
	r.log.Info(fmt.Sprintf("test for %s: %s completed", loc.Name, url))

	metrics, err := r.client.Metrics(ctx, id)
	if err != nil {
		return nil, err
	}
	m := &Measurement{Portal: portal, Timestamp: timestamp, URL: url, Location: loc.Name, TestID: id, Metrics: metrics}
	r.log.Info(fmt.Sprintf("testing %s: %s  test id %s", loc.Name, url, id))
	r.log.Info(fmt.Sprintf("   TTFB %v | FCP: %v | DCL: %v | Onload: %v | FLT: %v", m.TimeToFirstByte,
		m.FirstContentfulPaint, m.DomContentLoadedTime, m.OnloadTime, m.FullyLoadedTime))
	r.log.Info(fmt.Sprintf("   #requests: %d  page bytes: %d", m.PageRequests, m.PageBytes))

	if err = r.postForm(ctx, m); err != nil {
		r.log.Warn("failed to post results form.", slog.String("err", err.Error()))
	}

	return m, nil
}

func (r *Runner) postForm(ctx context.Context, m *Measurement) error {
	if r.cfg.FormEndpoint == "" {
		return nil
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range m.formFields() {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.FormEndpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	r.log.Info("result of post: " + resp.Status)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("form endpoint answered %s", resp.Status)
	}

	return nil
}
