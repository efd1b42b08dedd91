package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/handoff"
	"github.com/IliaW/portal-checker/internal/model"
)

// Ebrains drives the simulation launcher behind the EBRAINS identity provider.
type Ebrains struct {
	cfg   *config.EbrainsConfig
	store handoff.Store
	now   func() time.Time
}

func NewEbrains(cfg *config.EbrainsConfig, store handoff.Store) *Ebrains {
	return &Ebrains{cfg: cfg, store: store, now: time.Now}
}

func SimUIKeyFor(circuit string) string {
	return fmt.Sprintf("SIMUI_%s.INFO", strings.ToUpper(circuit))
}

// Circuits returns the configured circuit names, upper-cased and sorted.
func (e *Ebrains) Circuits() []string {
	names := make([]string, 0, len(e.cfg.Circuits))
	for name := range e.cfg.Circuits {
		names = append(names, strings.ToUpper(name))
	}
	sort.Strings(names)

	return names
}

func (e *Ebrains) circuit(name string) (*config.CircuitConfig, error) {
	for key, c := range e.cfg.Circuits {
		if strings.EqualFold(key, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown circuit %q", name)
}

// Checks lists check_simui then start_simui for every circuit, so the job started
// by the previous run is verified before a new one replaces it.
func (e *Ebrains) Checks(circuits []string) []Check {
	var checks []Check
	for _, c := range circuits {
		checks = append(checks, Check{Name: "check_simui_" + c, Login: e.Login(c), Run: e.CheckSimUI(c)})
	}
	for _, c := range circuits {
		checks = append(checks, Check{Name: "start_simui_" + c, Login: e.Login(c), Run: e.StartSimUI(c)})
	}

	return checks
}

func (e *Ebrains) Login(circuit string) CheckFunc {
	return func(t *T) error {
		c, err := e.circuit(circuit)
		if err != nil {
			return err
		}
		t.Next("Login: Opening page")
		if err = t.Open(c.URL); err != nil {
			return err
		}
		t.Debug("Opened page")

		if e.cfg.Login == "" {
			return errors.New("EBRAINS login undefined")
		}

		t.Next("Login: Inserting authorization")
		if err = t.Type(model.CSS("#username"), e.cfg.Login, pageTimeout); err != nil {
			return err
		}
		if err = t.Type(model.CSS("#password"), e.cfg.Password, defaultTimeout); err != nil {
			return err
		}

		t.Next("Login: Waiting for login button")
		if err = t.Click(model.CSS("#kc-login"), pageTimeout); err != nil {
			return err
		}
		t.Debug("Clicked on 'Login'")

		return nil
	}
}

func (e *Ebrains) StartSimUI(circuit string) CheckFunc {
	return func(t *T) error {
		c, err := e.circuit(circuit)
		if err != nil {
			return err
		}

		t.Next("Select population " + c.Population)
		if err = t.Type(model.XPath("//input[@placeholder='Duration']"), "30", pageTimeout); err != nil {
			return err
		}
		if err = t.Click(selectInput, defaultTimeout); err != nil {
			return err
		}
		if err = t.Click(model.XPath(fmt.Sprintf("//ul/li/div[text()='%s']", c.Population)), defaultTimeout); err != nil {
			return err
		}

		t.Next("Click Continue")
		if err = t.Click(continueButton, defaultTimeout); err != nil {
			return err
		}

		t.Next("Set title and click Run Simulation")
		if err = t.Type(titleInput, strconv.FormatInt(e.now().Unix(), 10), defaultTimeout); err != nil {
			return err
		}
		if err = t.Type(model.XPath("//input[@placeholder='Node to allocate']"), "4", defaultTimeout); err != nil {
			return err
		}
		if err = t.Click(runSimulation, defaultTimeout); err != nil {
			return err
		}
		t.Debug("Run Simulation has been clicked.")
		t.Shot(fmt.Sprintf("start_simui_%s_launch.png", circuit))

		t.Next("Wait for 'QUEUED'")
		if err = t.RequireText("QUEUED", pageTimeout, "start_simui_"+circuit+"_%s.png", shotEvery); err != nil {
			return err
		}

		t.Next("Write the job URL")
		current, err := t.CurrentURL()
		if err != nil {
			return err
		}
		if err = e.store.Write(t.Ctx, SimUIKeyFor(circuit), current); err != nil {
			return err
		}
		t.Debug("Test Success")

		return nil
	}
}

func (e *Ebrains) CheckSimUI(circuit string) CheckFunc {
	return func(t *T) error {
		t.Next("Read the job URL")
		job, err := e.store.Read(t.Ctx, SimUIKeyFor(circuit))
		if err != nil {
			return err
		}
		if !strings.HasPrefix(job, "http") {
			return fmt.Errorf("%w: URL does not start with http: '%s'", ErrSkipped, job)
		}

		t.Next("Open CHECK_SIMUI URL: " + job)
		// The launcher resolves the hash route of a fresh page only on the second load.
		for i := 0; i < 2; i++ {
			if err = t.Open(job); err != nil {
				return err
			}
		}
		t.Debug("Opened page %s", job)
		t.Shot(fmt.Sprintf("check_simui_%s_1-status.png", circuit))

		t.Next("Wait for 'SUCCESSFUL'")
		if err = t.RequireText("SUCCESSFUL", pageTimeout, "check_simui_"+circuit+"_wait_%s.png", shotEvery); err != nil {
			return err
		}
		t.Shot(fmt.Sprintf("check_simui_%s_2-checksuccess.png", circuit))
		t.Debug("Test Success")

		return nil
	}
}
