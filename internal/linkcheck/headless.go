package linkcheck

import (
	"context"
	"log/slog"
	"maps"

	"github.com/IliaW/portal-checker/internal/browser"
	"github.com/IliaW/portal-checker/internal/model"
)

// BrowserLoader opens every page in a fresh tab and records all responses until
// the page stops loading resources.
type BrowserLoader struct {
	browser *browser.Browser
	opts    *Options
	log     *slog.Logger
}

func NewBrowserLoader(b *browser.Browser, opts *Options, log *slog.Logger) *BrowserLoader {
	return &BrowserLoader{browser: b, opts: opts, log: log}
}

func (l *BrowserLoader) Mechanism() model.CheckMechanism {
	return model.HeadlessBrowser
}

func (l *BrowserLoader) Load(ctx context.Context, task *model.LinkTask) ([]model.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	headers := maps.Clone(l.opts.Headers)
	if headers == nil {
		headers = make(map[string]string, len(task.Headers))
	}
	maps.Copy(headers, task.Headers)

	s, err := l.browser.NewSession(browser.WithHeaders(headers))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err = s.OpenAndWait(task.URL, "networkIdle"); err != nil {
		return nil, err
	}
	if err = s.WaitRequestsSettled(l.opts.SettleInterval, l.opts.SettleMax); err != nil {
		return nil, err
	}

	return s.Requests(), nil
}
