package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/IliaW/portal-checker/internal/poll"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// lookupTimeout bounds a single DOM lookup made outside of a polling loop.
const lookupTimeout = 10 * time.Second

// closeTarget closes the browser target behind a tab context.
var closeTarget = chromedp.Cancel

type tab struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is a main tab plus the tabs it opened. All page operations act on the
// current tab, like a WebDriver window handle.
type Session struct {
	browser  *Browser
	log      *slog.Logger
	mu       sync.Mutex
	tabs     []*tab
	current  int
	headers  network.Headers
	recorder *recorder
	// discover attaches tabs the page opened since the last call.
	discover func() error
}

type SessionOption func(*Session)

// WithHeaders injects extra headers into every request of the session.
func WithHeaders(headers map[string]string) SessionOption {
	return func(s *Session) {
		if len(headers) == 0 {
			return
		}
		s.headers = make(network.Headers, len(headers))
		for k, v := range headers {
			s.headers[k] = v
		}
	}
}

func (b *Browser) NewSession(opts ...SessionOption) (*Session, error) {
	s := &Session{
		browser:  b,
		log:      b.log,
		recorder: newRecorder(),
	}
	s.discover = s.discoverTabs
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := chromedp.NewContext(b.ctx)
	t := &tab{ctx: ctx, cancel: cancel}
	if err := s.attach(t); err != nil {
		cancel()
		return nil, err
	}
	s.tabs = []*tab{t}

	return s, nil
}

// attach enables the domains the session relies on and starts recording responses.
func (s *Session) attach(t *tab) error {
	s.recorder.listen(t.ctx)
	tasks := chromedp.Tasks{network.Enable(), enableLifeCycleEvents()}
	if len(s.headers) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(s.headers))
	}
	if err := chromedp.Run(t.ctx, tasks); err != nil {
		return fmt.Errorf("failed to attach to tab: %w", err)
	}
	if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
		t.id = c.Target.TargetID
	}

	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.tabs) - 1; i >= 0; i-- {
		if err := closeTarget(s.tabs[i].ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("failed to close tab.", slog.String("err", err.Error()))
		}
		s.tabs[i].cancel()
	}
	s.tabs = nil
}

func (s *Session) tab() *tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[s.current]
}

func (s *Session) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx := s.tab().ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return chromedp.Run(ctx, actions...)
}

// Open navigates the current tab and waits for the load event.
func (s *Session) Open(url string) error {
	return s.OpenAndWait(url, "load")
}

// OpenAndWait navigates the current tab and waits for the named lifecycle event
// ("load", "DOMContentLoaded", "networkIdle", ...).
func (s *Session) OpenAndWait(url, event string) error {
	s.log.Debug("opening page.", slog.String("url", url))
	if err := s.run(s.browser.cfg.PageLoadTimeout, navigateAndWaitFor(url, event)); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}

	return nil
}

func (s *Session) Click(loc model.Locator, timeout time.Duration) error {
	sel, by, err := query(loc)
	if err != nil {
		return err
	}
	if err := s.run(timeout, chromedp.Click(sel, by, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, err)
	}

	return nil
}

// Type replaces the value of an input element.
func (s *Session) Type(loc model.Locator, text string, timeout time.Duration) error {
	sel, by, err := query(loc)
	if err != nil {
		return err
	}
	err = s.run(timeout,
		chromedp.WaitVisible(sel, by),
		chromedp.Clear(sel, by),
		chromedp.SendKeys(sel, text, by),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %s: %w", loc, err)
	}

	return nil
}

// ElementExists probes the DOM once.
func (s *Session) ElementExists(loc model.Locator) (bool, error) {
	ctx, cancel := context.WithTimeout(s.tab().ctx, lookupTimeout)
	defer cancel()

	return elementExists(ctx, loc)
}

func elementExists(ctx context.Context, loc model.Locator) (bool, error) {
	expr, err := existsExpression(loc)
	if err != nil {
		return false, err
	}
	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}

	return found, nil
}

// FindElement waits until the element is present in the DOM.
func (s *Session) FindElement(loc model.Locator, timeout time.Duration) error {
	err := poll.Until(s.tab().ctx, poll.Options{Timeout: timeout, Interval: s.pollInterval(), IgnoreErrors: true},
		func(ctx context.Context) (bool, error) {
			return elementExists(ctx, loc)
		})
	if err != nil {
		return fmt.Errorf("element %s not found: %w", loc, err)
	}

	return nil
}

func (s *Session) Attribute(loc model.Locator, name string, timeout time.Duration) (string, error) {
	sel, by, err := query(loc)
	if err != nil {
		return "", err
	}
	var value string
	var ok bool
	if name == "value" {
		// The value property reflects user input, the attribute does not.
		err = s.run(timeout, chromedp.Value(sel, &value, by))
		ok = err == nil
	} else {
		err = s.run(timeout, chromedp.AttributeValue(sel, name, &value, &ok, by))
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %q of %s: %w", name, loc, err)
	}
	if !ok {
		return "", fmt.Errorf("%s has no attribute %q", loc, name)
	}

	return value, nil
}

func (s *Session) Text(loc model.Locator, timeout time.Duration) (string, error) {
	sel, by, err := query(loc)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(timeout, chromedp.Text(sel, &text, by)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", loc, err)
	}

	return strings.TrimSpace(text), nil
}

// Size returns the rendered width and height of an element in CSS pixels.
func (s *Session) Size(loc model.Locator, timeout time.Duration) (float64, float64, error) {
	sel, by, err := query(loc)
	if err != nil {
		return 0, 0, err
	}
	var box *dom.BoxModel
	if err := s.run(timeout, chromedp.Dimensions(sel, &box, by, chromedp.NodeVisible)); err != nil {
		return 0, 0, fmt.Errorf("failed to measure %s: %w", loc, err)
	}
	if box == nil {
		return 0, 0, fmt.Errorf("element %s has no box model", loc)
	}

	return float64(box.Width), float64(box.Height), nil
}

// TextVisible probes once whether the page body shows the text.
func (s *Session) TextVisible(text string) (bool, error) {
	ctx, cancel := context.WithTimeout(s.tab().ctx, lookupTimeout)
	defer cancel()

	return textVisible(ctx, text)
}

func textVisible(ctx context.Context, text string) (bool, error) {
	var visible bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(textVisibleExpression(text), &visible)); err != nil {
		return false, err
	}

	return visible, nil
}

// WaitText polls until the text shows up. A timeout is reported as false, not as an error.
// onTick, when set, runs after every unsuccessful probe (e.g. to take diagnostic screenshots).
func (s *Session) WaitText(text string, timeout time.Duration, onTick func(elapsed time.Duration)) (bool, error) {
	return poll.Found(s.tab().ctx, poll.Options{
		Timeout:      timeout,
		Interval:     s.pollInterval(),
		IgnoreErrors: true,
		OnTick:       onTick,
	}, func(ctx context.Context) (bool, error) {
		return textVisible(ctx, text)
	})
}

func (s *Session) CurrentURL() (string, error) {
	var url string
	if err := s.run(0, chromedp.Location(&url)); err != nil {
		return "", err
	}

	return url, nil
}

func (s *Session) Title() (string, error) {
	var title string
	if err := s.run(0, chromedp.Title(&title)); err != nil {
		return "", err
	}

	return title, nil
}

// Screenshot writes a PNG of the current viewport, creating the directory if needed.
func (s *Session) Screenshot(path string) error {
	var buf []byte
	if err := s.run(s.browser.cfg.PageLoadTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	s.log.Debug("screenshot saved.", slog.String("path", path))

	return nil
}

var screenshotNameReplacer = regexp.MustCompile(`[/&?=]`)

// ScreenshotName derives a file name from a page path.
func ScreenshotName(urlPath string) string {
	if len(urlPath) > 0 {
		urlPath = urlPath[1:]
	}
	return screenshotNameReplacer.ReplaceAllString(urlPath, "_") + ".png"
}

// Requests returns the responses recorded by all tabs of the session.
func (s *Session) Requests() []model.RequestRecord {
	return s.recorder.snapshot()
}

// WaitRequestsSettled returns once no new response arrived during a whole interval,
// or when max is spent.
func (s *Session) WaitRequestsSettled(interval, max time.Duration) error {
	last := -1 // the first count never settles
	err := poll.Until(s.tab().ctx, poll.Options{Timeout: max, Interval: interval},
		func(context.Context) (bool, error) {
			n := s.recorder.count()
			settled := n == last
			last = n
			return settled, nil
		})
	if errors.Is(err, poll.ErrTimeout) {
		s.log.Warn("page kept loading resources.", slog.Int("requests", last))
		return nil
	}

	return err
}

// SwitchToWindow selects a tab by its opening order, 0 being the main tab.
// Tabs the page opened since the last call are discovered first.
func (s *Session) SwitchToWindow(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchWindow, index)
	}
	err := poll.Until(s.browser.ctx, poll.Options{Timeout: s.browser.cfg.NewTabTimeout, Interval: 250 * time.Millisecond},
		func(context.Context) (bool, error) {
			if err := s.discover(); err != nil {
				return false, err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			return index < len(s.tabs), nil
		})
	if err != nil {
		return fmt.Errorf("%w: %d: %w", ErrNoSuchWindow, index, err)
	}
	s.mu.Lock()
	s.current = index
	s.mu.Unlock()

	return nil
}

// SwitchToNewest waits for a tab opened by the session and selects the most recent one.
func (s *Session) SwitchToNewest() error {
	s.mu.Lock()
	known := len(s.tabs)
	s.mu.Unlock()
	if err := s.SwitchToWindow(known); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = len(s.tabs) - 1
	s.mu.Unlock()

	return nil
}

// CloseCurrent closes the current tab and returns to the main tab.
func (s *Session) CloseCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == 0 {
		return errors.New("refusing to close the main tab")
	}
	t := s.tabs[s.current]
	if err := closeTarget(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	t.cancel()
	s.tabs = append(s.tabs[:s.current], s.tabs[s.current+1:]...)
	s.current = 0

	return nil
}

// discoverTabs attaches page targets opened by one of the session tabs.
func (s *Session) discoverTabs() error {
	infos, err := chromedp.Targets(s.browser.ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	owned := make(map[target.ID]bool, len(s.tabs))
	for _, t := range s.tabs {
		owned[t.id] = true
	}
	s.mu.Unlock()

	for _, info := range infos {
		if info.Type != "page" || owned[info.TargetID] || !owned[info.OpenerID] {
			continue
		}
		ctx, cancel := chromedp.NewContext(s.browser.ctx, chromedp.WithTargetID(info.TargetID))
		t := &tab{id: info.TargetID, ctx: ctx, cancel: cancel}
		if err := s.attach(t); err != nil {
			cancel()
			return err
		}
		s.log.Debug("switched to new tab.", slog.String("url", info.URL))
		s.mu.Lock()
		s.tabs = append(s.tabs, t)
		s.mu.Unlock()
		owned[info.TargetID] = true
	}

	return nil
}

func (s *Session) pollInterval() time.Duration {
	if s.browser.cfg.PollInterval > 0 {
		return s.browser.cfg.PollInterval
	}
	return poll.DefaultInterval
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

// navigateAndWaitFor listens before navigating so a fast page cannot fire the
// event before anyone waits for it.
func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		loaded := make(chan cdp.LoaderID, 16)
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == eventName {
				select {
				case loaded <- e.LoaderID:
				default:
				}
			}
		})

		_, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation failed: %s", errorText)
		}
		if loaderID == "" { // same-document navigation, e.g. a hash route
			return nil
		}
		for {
			select {
			case id := <-loaded:
				if id == loaderID {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
