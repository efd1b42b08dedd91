package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// ErrSkipped ends a check early without failing it.
var ErrSkipped = errors.New("check skipped")

// Driver is the browser surface the UI flows are written against.
type Driver interface {
	Open(url string) error
	Click(loc model.Locator, timeout time.Duration) error
	Type(loc model.Locator, text string, timeout time.Duration) error
	FindElement(loc model.Locator, timeout time.Duration) error
	ElementExists(loc model.Locator) (bool, error)
	Attribute(loc model.Locator, name string, timeout time.Duration) (string, error)
	Text(loc model.Locator, timeout time.Duration) (string, error)
	Size(loc model.Locator, timeout time.Duration) (float64, float64, error)
	TextVisible(text string) (bool, error)
	WaitText(text string, timeout time.Duration, onTick func(elapsed time.Duration)) (bool, error)
	CurrentURL() (string, error)
	Title() (string, error)
	Screenshot(path string) error
	SwitchToWindow(index int) error
	SwitchToNewest() error
	CloseCurrent() error
	Requests() []model.RequestRecord
	Close()
}

type CheckFunc func(t *T) error

// Check is a named flow. Login, when set, replaces the suite login for this check.
type Check struct {
	Name  string
	Login CheckFunc
	Run   CheckFunc
}

// T is the state of one running check: its driver, its current step and its clock.
type T struct {
	Driver
	Ctx      context.Context
	name     string
	step     string
	start    time.Time
	elapsed  time.Duration
	debugDir string
	log      *slog.Logger
	sleep    func(time.Duration)
}

// Next records the step reported when the check fails.
func (t *T) Next(step string) {
	t.step = step
}

func (t *T) Step() string {
	return t.step
}

func (t *T) Debug(format string, args ...any) {
	t.log.Info(fmt.Sprintf("... %.2f: %s", time.Since(t.start).Seconds(), fmt.Sprintf(format, args...)))
}

// Shot saves a diagnostic screenshot in the debug directory. Failures are only logged.
func (t *T) Shot(name string) {
	path := filepath.Join(t.debugDir, name)
	if err := t.Screenshot(path); err != nil {
		t.log.Warn("failed to save screenshot.", slog.String("path", path), slog.String("err", err.Error()))
	}
}

// Pause gives the page time to react where nothing observable can be waited for.
func (t *T) Pause(d time.Duration) {
	t.sleep(d)
}

// Elapsed reports how long the checked condition took to appear.
func (t *T) Elapsed(d time.Duration) {
	t.elapsed = d
}

// RequireText waits for the text and fails when it does not show up in time.
// While waiting, a screenshot named after pattern (with the elapsed seconds) is
// taken every shotEvery.
func (t *T) RequireText(text string, timeout time.Duration, pattern string, shotEvery time.Duration) error {
	started := time.Now()
	var lastShot time.Duration
	onTick := func(elapsed time.Duration) {
		if pattern == "" || shotEvery <= 0 || elapsed-lastShot < shotEvery {
			return
		}
		lastShot = elapsed
		t.Shot(fmt.Sprintf(pattern, fmt.Sprintf("%03.0f", elapsed.Seconds())))
	}
	visible, err := t.WaitText(text, timeout, onTick)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("text %q not visible after %s", text, timeout)
	}
	t.Elapsed(time.Since(started))

	return nil
}

type Runner struct {
	Suite     string
	RunID     string
	Version   string
	DebugDir  string
	NewDriver func() (Driver, error)
	Log       *slog.Logger
	Sleep     func(time.Duration)
}

// Run performs login and check in a fresh browser and turns any failure into a
// failed result, leaving a screenshot and the recorded requests behind.
func (r *Runner) Run(ctx context.Context, name string, login CheckFunc, check CheckFunc) *model.CheckResult {
	r.Log.Info("running test " + name)
	res := &model.CheckResult{RunID: r.RunID, Suite: r.Suite, Name: name, Version: r.Version}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	d, err := r.NewDriver()
	if err != nil {
		r.Log.Error("failed to start browser.", slog.String("err", err.Error()))
		res.Step = "Starting browser"
		return res
	}
	defer d.Close()

	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	t := &T{Driver: d, Ctx: ctx, name: name, start: start, debugDir: r.DebugDir, log: r.Log, sleep: sleep}

	if login != nil {
		err = login(t)
	}
	if err == nil {
		err = check(t)
	}
	switch {
	case err == nil:
		res.Passed = true
		res.Elapsed = t.elapsed
	case errors.Is(err, ErrSkipped):
		r.Log.Info(fmt.Sprintf("SKIPPING TEST: %s", err.Error()), slog.String("test", name))
		res.Passed = true
		res.Skipped = true
	default:
		title, _ := d.Title()
		r.Log.Error("ERROR for step: "+t.step, slog.String("test", name), slog.String("page", title),
			slog.String("err", err.Error()))
		res.Step = t.step
		t.Shot(fmt.Sprintf("test_%s_ERROR.png", name))
		if err := r.saveRequests(name, d.Requests()); err != nil {
			r.Log.Warn("failed to save requests.", slog.String("err", err.Error()))
		}
	}

	return res
}

func (r *Runner) saveRequests(name string, requests []model.RequestRecord) error {
	if requests == nil {
		requests = []model.RequestRecord{}
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(requests)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(r.DebugDir, 0755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(r.DebugDir, fmt.Sprintf("request_%s.json", name)), data, 0644)
}
