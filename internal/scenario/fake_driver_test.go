package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
)

// fakeDriver plays a scripted page. Windows are identified by index; clicking a
// locator listed in opens adds a window with the given URL.
type fakeDriver struct {
	windows  []string
	current  int
	opens    map[model.Locator]string
	attrs    map[string]string // "<locator value>@<attr>"
	texts    map[model.Locator]string
	sizes    map[model.Locator]float64
	visible  map[string]bool
	present  map[model.Locator]bool
	failOn   map[model.Locator]error
	opened   []string
	clicked  []model.Locator
	typed    map[string]string
	shots    []string
	requests []model.RequestRecord
	closed   bool
}

func newFakeDriver(start string) *fakeDriver {
	return &fakeDriver{
		windows: []string{start},
		opens:   map[model.Locator]string{},
		attrs:   map[string]string{},
		texts:   map[model.Locator]string{},
		sizes:   map[model.Locator]float64{},
		visible: map[string]bool{},
		present: map[model.Locator]bool{},
		failOn:  map[model.Locator]error{},
		typed:   map[string]string{},
	}
}

func (f *fakeDriver) Open(url string) error {
	f.opened = append(f.opened, url)
	f.windows[f.current] = url
	return nil
}

func (f *fakeDriver) Click(loc model.Locator, _ time.Duration) error {
	if err := f.failOn[loc]; err != nil {
		return err
	}
	f.clicked = append(f.clicked, loc)
	if u, ok := f.opens[loc]; ok {
		f.windows = append(f.windows, u)
	}
	return nil
}

func (f *fakeDriver) Type(loc model.Locator, text string, _ time.Duration) error {
	if err := f.failOn[loc]; err != nil {
		return err
	}
	f.typed[loc.Value] = text
	return nil
}

func (f *fakeDriver) FindElement(loc model.Locator, _ time.Duration) error {
	if ok, _ := f.ElementExists(loc); !ok {
		return fmt.Errorf("element %s not found", loc)
	}
	return nil
}

func (f *fakeDriver) ElementExists(loc model.Locator) (bool, error) {
	return f.present[loc], nil
}

func (f *fakeDriver) Attribute(loc model.Locator, name string, _ time.Duration) (string, error) {
	v, ok := f.attrs[loc.Value+"@"+name]
	if !ok {
		return "", fmt.Errorf("no attribute %s on %s", name, loc)
	}
	return v, nil
}

func (f *fakeDriver) Text(loc model.Locator, _ time.Duration) (string, error) {
	v, ok := f.texts[loc]
	if !ok {
		return "", fmt.Errorf("no element %s", loc)
	}
	return v, nil
}

func (f *fakeDriver) Size(loc model.Locator, _ time.Duration) (float64, float64, error) {
	return 500, f.sizes[loc], nil
}

func (f *fakeDriver) TextVisible(text string) (bool, error) {
	return f.visible[text], nil
}

func (f *fakeDriver) WaitText(text string, _ time.Duration, onTick func(time.Duration)) (bool, error) {
	if !f.visible[text] && onTick != nil {
		onTick(10 * time.Second)
	}
	return f.visible[text], nil
}

func (f *fakeDriver) CurrentURL() (string, error) {
	return f.windows[f.current], nil
}

func (f *fakeDriver) Screenshot(path string) error {
	f.shots = append(f.shots, path)
	return nil
}

func (f *fakeDriver) SwitchToWindow(index int) error {
	if index >= len(f.windows) {
		return fmt.Errorf("no window %d", index)
	}
	f.current = index
	return nil
}

func (f *fakeDriver) SwitchToNewest() error {
	if len(f.windows) < 2 {
		return fmt.Errorf("no new window")
	}
	f.current = len(f.windows) - 1
	return nil
}

func (f *fakeDriver) Title() (string, error) {
	return "fake: " + f.windows[f.current], nil
}

func (f *fakeDriver) CloseCurrent() error {
	if f.current == 0 {
		return fmt.Errorf("refusing to close the main window")
	}
	f.windows = append(f.windows[:f.current], f.windows[f.current+1:]...)
	f.current = 0
	return nil
}

func (f *fakeDriver) Requests() []model.RequestRecord { return f.requests }

func (f *fakeDriver) Close() { f.closed = true }

func (f *fakeDriver) shotNamed(suffix string) bool {
	for _, s := range f.shots {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
