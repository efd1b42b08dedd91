package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/portal-checker/config"
	"github.com/chromedp/chromedp"
)

var ErrNoSuchWindow = errors.New("no such window")

// Browser owns one Chrome process. Sessions opened on it are independent tabs that
// share the browser profile (cookies, cache).
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         *config.BrowserConfig
	log         *slog.Logger
}

func NewBrowser(ctx context.Context, cfg *config.BrowserConfig, log *slog.Logger) (*Browser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		log.Info("connecting to remote browser...", slog.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Debug("chromedp error: " + fmt.Sprintf(format, args...))
		}))
	// The first Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}
	log.Debug("browser started.", slog.Bool("headless", cfg.Headless))

	return &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		log:         log,
	}, nil
}

func allocatorOptions(cfg *config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("start-maximized", !cfg.Headless),
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	return opts
}

func (b *Browser) Close() {
	b.log.Debug("closing browser.")
	if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("failed to close browser.", slog.String("err", err.Error()))
	}
	b.cancel()
	b.allocCancel()
}
