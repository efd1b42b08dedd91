package scenario

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/handoff"
	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

const (
	SimUIKey  = "SIMUI.INFO"
	PspAppKey = "PSPAPP.INFO"

	defaultTimeout = 30 * time.Second
	pageTimeout    = 60 * time.Second
	shotEvery      = 5 * time.Second
)

var (
	continueButton = model.XPath("//button/span[contains(text(),'Continue')]")
	runSimulation  = model.XPath(`//button/span[contains(text(),"Run Simulation")]`)
	selectInput    = model.XPath("//input[@placeholder='Select']")
	titleInput     = model.XPath("//input[@placeholder='Title']")
)

// ServiceCheck opens a course service from its button and expects an element in the new tab.
type ServiceCheck struct {
	Test     string        `json:"test"`
	Element  model.Locator `json:"element"`
	Wait     float64       `json:"wait,omitempty"` // seconds
	Negative bool          `json:"negative,omitempty"`
}

func LoadServiceChecks(file string) (map[string]*ServiceCheck, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read service checks: %w", err)
	}
	var checks map[string]*ServiceCheck
	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &checks); err != nil {
		return nil, fmt.Errorf("failed to parse service checks %s: %w", file, err)
	}
	for name, sc := range checks {
		if sc.Test == "" || sc.Element.Value == "" {
			return nil, fmt.Errorf("service check %q needs a test button and an element", name)
		}
		if sc.Element.By, err = model.ParseBy(string(sc.Element.By)); err != nil {
			return nil, fmt.Errorf("service check %q: %w", name, err)
		}
	}

	return checks, nil
}

func (sc *ServiceCheck) timeout() time.Duration {
	if sc.Wait <= 0 {
		return 5 * time.Second
	}
	return time.Duration(sc.Wait * float64(time.Second))
}

// Mooc drives the QA page of the course platform, which links every app and
// service of the course.
type Mooc struct {
	cfg   *config.MoocConfig
	store handoff.Store
	now   func() time.Time
}

func NewMooc(cfg *config.MoocConfig, store handoff.Store) *Mooc {
	return &Mooc{cfg: cfg, store: store, now: time.Now}
}

func (m *Mooc) Login(t *T) error {
	t.Next("Login: Opening page")
	if err := t.Open(m.cfg.CourseURL); err != nil {
		return err
	}
	t.Debug("Opened page")

	if m.cfg.Login == "" {
		return errors.New("EDX login undefined")
	}

	t.Next("Login: Waiting for 'SWITCH edu-ID'")
	if err := t.Click(model.ParseLocator("button:contains('SWITCH edu-ID')"), pageTimeout); err != nil {
		return err
	}
	t.Debug("Clicked on 'SWITCH edu-ID'")

	t.Next("Login: Inserting authorization")
	if err := t.Type(model.CSS("#username"), m.cfg.Login, defaultTimeout); err != nil {
		return err
	}
	if err := t.Type(model.CSS("#password"), m.cfg.Password, defaultTimeout); err != nil {
		return err
	}

	t.Next("Login: Waiting for login button")
	if err := t.Click(model.ID("login-button"), pageTimeout); err != nil {
		return err
	}
	t.Debug("Clicked on 'Login'")

	return nil
}

// Check returns the app flow registered under name.
func (m *Mooc) Check(name string) (CheckFunc, bool) {
	switch name {
	case "grade_submission":
		return m.GradeSubmission, true
	case "start_simui":
		return m.StartSimUI, true
	case "check_simui":
		return m.CheckSimUI, true
	case "start_pspapp":
		return m.StartPspApp, true
	case "check_pspapp":
		return m.CheckPspApp, true
	default:
		return nil, false
	}
}

// AppChecks lists the job flows; the checks of the previous jobs run before new ones start.
func (m *Mooc) AppChecks() []Check {
	return []Check{
		{Name: "check_simui", Run: m.CheckSimUI},
		{Name: "check_pspapp", Run: m.CheckPspApp},
		{Name: "start_simui", Run: m.StartSimUI},
		{Name: "start_pspapp", Run: m.StartPspApp},
	}
}

func (m *Mooc) ServiceChecks(services map[string]*ServiceCheck) []Check {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		checks = append(checks, Check{Name: name, Run: m.CheckService(name, services[name])})
	}

	return checks
}

func (m *Mooc) CheckService(name string, sc *ServiceCheck) CheckFunc {
	return func(t *T) error {
		t.Pause(5 * time.Second)
		t.Shot(fmt.Sprintf("test_%s_1.png", name))

		t.Next("Test: Waiting for button")
		if err := t.Click(model.ParseLocator(fmt.Sprintf("button:contains('%s')", sc.Test)), defaultTimeout); err != nil {
			return err
		}
		t.Debug("Button for test has been clicked")
		t.Shot(fmt.Sprintf("test_%s_2.png", name))

		t.Next("Test: Switching to the service tab")
		if err := t.SwitchToWindow(1); err != nil {
			return err
		}

		t.Next("Test: Waiting for element to check")
		err := t.FindElement(sc.Element, sc.timeout())
		switch {
		case sc.Negative && err == nil:
			return fmt.Errorf("element %s should not be present", sc.Element)
		case !sc.Negative && err != nil:
			return err
		}
		t.Shot(fmt.Sprintf("test_%s_3.png", name))

		if err = t.CloseCurrent(); err != nil {
			return err
		}
		t.Debug("Test: Success")

		return nil
	}
}

func (m *Mooc) graderKey(t *T) (string, error) {
	t.Pause(5 * time.Second)

	t.Next("Test: Waiting for 'KeyGrading' button")
	if err := t.Click(model.ParseLocator("button:contains('KeyGrading')"), defaultTimeout); err != nil {
		return "", err
	}
	t.Debug("Button for 'KeyGrading' has been clicked")
	t.Shot("test_grade_submission_1.png")

	t.Next("Test: Get submission key")
	if err := t.SwitchToWindow(1); err != nil {
		return "", err
	}
	key, err := t.Attribute(model.CSS("#submissionKey"), "value", defaultTimeout)
	if err != nil {
		return "", err
	}
	t.Debug("Submission key found: %s", key)

	return key, t.CloseCurrent()
}

func (m *Mooc) GradeSubmission(t *T) error {
	key, err := m.graderKey(t)
	if err != nil {
		return err
	}

	t.Next("Set the grader key and click on submit")
	if err = t.Type(model.XPath("//input[@id='vizKey']"), key, defaultTimeout); err != nil {
		return err
	}
	if err = t.Click(model.XPath("//button[text()='Submit']"), defaultTimeout); err != nil {
		return err
	}
	t.Debug("Clicked on submit")
	t.Shot("test_grade_submission_2.png")

	// The answer element exists before the grader fills it.
	t.Pause(10 * time.Second)
	t.Next("Check the answer")
	text, err := t.Text(model.XPath("//div[@id='bbpGraderAnswer']"), defaultTimeout)
	if err != nil {
		return err
	}
	t.Debug("Answer is: %s", text)

	t.Next("Check the json content")
	var answer struct {
		Grade struct {
			Value float64 `json:"value"`
		} `json:"grade"`
	}
	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(text), &answer); err != nil {
		return fmt.Errorf("grader answer is not json: %w", err)
	}
	if answer.Grade.Value != 1 {
		return fmt.Errorf("grade is %v, expected 1", answer.Grade.Value)
	}
	t.Debug("Test: Success")

	return nil
}

// openApp clicks the app button of the QA page and returns the auth token the app
// receives in its URL query.
func (m *Mooc) openApp(t *T, app string) (string, error) {
	t.Next(fmt.Sprintf("Clicking on '%s'", app))
	if err := t.Click(model.XPath(fmt.Sprintf("//button[contains(text(),'%s')]", app)), pageTimeout); err != nil {
		return "", err
	}
	t.Debug("Clicked on '%s'", app)
	t.Shot(fmt.Sprintf("open_%s.png", app))
	t.Pause(5 * time.Second)

	t.Next("Get the URL token")
	if err := t.SwitchToNewest(); err != nil {
		return "", err
	}
	current, err := t.CurrentURL()
	if err != nil {
		return "", err
	}
	t.Debug("URL retrieved is `%s`  ->  %s", app, current)
	_, auth, ok := strings.Cut(current, "?")
	if !ok {
		return "", fmt.Errorf("no auth token in %s", current)
	}

	return auth, nil
}

func (m *Mooc) jobID() string {
	return strconv.FormatInt(m.now().Unix(), 10)
}

func (m *Mooc) StartSimUI(t *T) error {
	if _, err := m.openApp(t, "AppSim"); err != nil {
		return err
	}

	t.Next("Select mc1 population")
	if err := t.Click(selectInput, defaultTimeout); err != nil {
		return err
	}
	if err := t.Click(model.XPath("//ul/li/div[text()='mc1_Column']"), defaultTimeout); err != nil {
		return err
	}

	t.Next("Click Continue")
	if err := t.Click(continueButton, defaultTimeout); err != nil {
		return err
	}

	t.Next("Set title and click Run Simulation")
	if err := t.Type(titleInput, m.jobID(), defaultTimeout); err != nil {
		return err
	}
	if err := t.Click(runSimulation, defaultTimeout); err != nil {
		return err
	}
	t.Debug("Run Simulation has been clicked.")
	t.Shot("start_simui_launch.png")

	t.Next("Wait for 'QUEUED'")
	if err := t.RequireText("QUEUED", pageTimeout, "start_simui_%s.png", shotEvery); err != nil {
		return err
	}

	t.Next("Write the job URL")
	current, err := t.CurrentURL()
	if err != nil {
		return err
	}
	u, err := url.Parse(current)
	if err != nil {
		return err
	}
	if err = m.store.Write(t.Ctx, SimUIKey, fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)); err != nil {
		return err
	}
	t.Debug("Test Success")

	return nil
}

func (m *Mooc) CheckSimUI(t *T) error {
	auth, err := m.openApp(t, "AppSim")
	if err != nil {
		return err
	}

	t.Next("Read the job URL")
	job, err := m.store.Read(t.Ctx, SimUIKey)
	if err != nil {
		return err
	}
	target := job + "?" + auth

	t.Next("Open CHECK_SIMUI URL: " + target)
	if err = t.Open(target); err != nil {
		return err
	}
	t.Debug("Opened page %s", target)
	t.Shot("check_simui_1-status.png")

	t.Next("Wait for 'SUCCESSFUL'")
	if err = t.RequireText("SUCCESSFUL", pageTimeout, "check_simui_wait_%s.png", shotEvery); err != nil {
		return err
	}
	t.Shot("check_simui_2-checksuccess.png")
	t.Debug("Test Success")

	return nil
}

func (m *Mooc) StartPspApp(t *T) error {
	if _, err := m.openApp(t, "AppPSP"); err != nil {
		return err
	}

	t.Next("Start a PSPApp Simulation")
	if err := t.Click(continueButton, defaultTimeout); err != nil {
		return err
	}
	if err := t.Click(model.XPath(`//button/span[contains(text(),"Run PSP")]`), defaultTimeout); err != nil {
		return err
	}
	t.Debug("PSPApp simulation has been started")

	t.Next("Set job name and click on 'Launch'")
	id := m.jobID()
	if err := t.Type(model.XPath("//input[@placeholder='Job name']"), id, defaultTimeout); err != nil {
		return err
	}
	t.Shot("start_pspapp_launch.png")
	if err := t.Click(model.XPath(`//button/span[contains(text(),"Launch")]`), defaultTimeout); err != nil {
		return err
	}
	t.Debug("Clicked on 'Launch'")

	t.Next("Write the job name")
	if err := m.store.Write(t.Ctx, PspAppKey, id); err != nil {
		return err
	}
	t.Pause(10 * time.Second)
	t.Debug("Test Success")

	return nil
}

func (m *Mooc) CheckPspApp(t *T) error {
	auth, err := m.openApp(t, "AppPSP")
	if err != nil {
		return err
	}
	t.Pause(5 * time.Second)
	t.Shot("check_pspapp_1-open.png")

	t.Next("Read the job name")
	job, err := m.store.Read(t.Ctx, PspAppKey)
	if err != nil {
		return err
	}
	t.Debug("CHECK_PSPAPP job name: %s", job)

	overview := m.cfg.PspListURL + "?" + auth
	t.Next("Open the overview page " + overview)
	if err = t.Open(overview); err != nil {
		return err
	}
	t.Pause(5 * time.Second)
	t.Debug("Opened the overview page")
	t.Shot("check_pspapp_2-overview.png")

	t.Next("Click on the job name " + job)
	if err = t.Click(model.XPath(fmt.Sprintf("//span[contains(text(),'%s')]", job)), defaultTimeout); err != nil {
		return err
	}
	t.Pause(5 * time.Second)
	t.Debug("Clicked on the job name %s", job)
	t.Shot("check_pspapp_3-clickedjob.png")

	t.Next("Wait for 'SUCCESSFUL'")
	if err = t.RequireText("SUCCESSFUL", pageTimeout, "check_pspapp_wait_%s.png", shotEvery); err != nil {
		return err
	}
	t.Shot("check_pspapp_4-checksuccess.png")
	t.Debug("Test Success")

	return nil
}
