package linkcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/gocolly/colly"
	"github.com/patrickmn/go-cache"
)

const resourceSelector = "a[href], link[href], img[src], script[src]"

// CurlLoader fetches the page without a browser and checks every linked resource.
// Resource statuses are cached for the lifetime of the loader.
type CurlLoader struct {
	opts      *Options
	userAgent string
	statuses  *cache.Cache
	log       *slog.Logger
}

func NewCurlLoader(opts *Options, userAgent string, log *slog.Logger) *CurlLoader {
	ttl := opts.CacheTtl
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &CurlLoader{
		opts:      opts,
		userAgent: userAgent,
		statuses:  cache.New(ttl, 10*time.Minute),
		log:       log,
	}
}

func (l *CurlLoader) Mechanism() model.CheckMechanism {
	return model.Curl
}

func (l *CurlLoader) collector(headers map[string]string) *colly.Collector {
	c := colly.NewCollector()
	c.AllowURLRevisit = true
	if l.opts.PageTimeout > 0 {
		c.SetRequestTimeout(l.opts.PageTimeout)
	}
	if l.userAgent != "" {
		c.UserAgent = l.userAgent
	}
	c.OnRequest(func(r *colly.Request) {
		for k, v := range l.opts.Headers {
			r.Headers.Set(k, v)
		}
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})

	return c
}

func (l *CurlLoader) Load(ctx context.Context, task *model.LinkTask) ([]model.RequestRecord, error) {
	page := model.RequestRecord{URL: task.URL, Method: "GET"}
	var resources []string
	seen := make(map[string]bool)

	c := l.collector(task.Headers)
	c.OnResponse(func(r *colly.Response) {
		page.Status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		page.Status = r.StatusCode
		if r.StatusCode == 0 {
			page.Status = -1
			l.log.Debug("page request failed.", slog.String("url", task.URL), slog.String("err", err.Error()))
		}
	})
	c.OnHTML(resourceSelector, func(e *colly.HTMLElement) {
		ref := e.Attr("href")
		if ref == "" {
			ref = e.Attr("src")
		}
		abs := e.Request.AbsoluteURL(ref)
		if abs == "" || seen[abs] || !fetchable(abs) {
			return
		}
		seen[abs] = true
		resources = append(resources, abs)
	})

	page.RequestTime = time.Now()
	err := c.Visit(task.URL)
	page.ResponseTime = time.Now()
	if page.Status == -1 {
		return nil, fmt.Errorf("failed to fetch %s: %w", task.URL, err)
	}

	records := []model.RequestRecord{page}
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		records = append(records, l.check(res, task.Headers))
	}

	return records, nil
}

// check fetches one resource, answering from the cache when it was seen before.
func (l *CurlLoader) check(resource string, headers map[string]string) model.RequestRecord {
	rec := model.RequestRecord{URL: resource, Method: "GET", RequestTime: time.Now()}
	if status, ok := l.statuses.Get(resource); ok {
		rec.Status = status.(int)
		rec.ResponseTime = rec.RequestTime
		return rec
	}

	c := l.collector(headers)
	c.OnResponse(func(r *colly.Response) {
		rec.Status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		rec.Status = r.StatusCode
		if r.StatusCode == 0 {
			// Unreachable resources are reported like a gateway failure.
			rec.Status = 502
			l.log.Debug("resource request failed.", slog.String("url", resource), slog.String("err", err.Error()))
		}
	})
	_ = c.Visit(resource)
	rec.ResponseTime = time.Now()
	l.statuses.Set(resource, rec.Status, cache.DefaultExpiration)

	return rec
}

func fetchable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
