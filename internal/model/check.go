package model

import (
	"fmt"
	"time"
)

type CheckMechanism int

const (
	Curl CheckMechanism = iota
	HeadlessBrowser
)

func (cm CheckMechanism) String() string {
	return [...]string{"curl", "headless"}[cm]
}

// ParseCheckMechanism accepts the names printed by String.
func ParseCheckMechanism(s string) (CheckMechanism, error) {
	switch s {
	case "curl":
		return Curl, nil
	case "headless", "":
		return HeadlessBrowser, nil
	default:
		return HeadlessBrowser, fmt.Errorf("unknown check mechanism %q", s)
	}
}

// CheckResult is the outcome of one named acceptance check.
type CheckResult struct {
	RunID    string        `json:"run_id"`
	Suite    string        `json:"suite"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Step     string        `json:"step,omitempty"`
	Duration time.Duration `json:"duration"`
	Elapsed  time.Duration `json:"elapsed,omitempty"` // time for the checked condition to appear
	Version  string        `json:"version"`
}

// Line renders the result in the summary format consumed by the chat reporter.
func (r *CheckResult) Line() string {
	if !r.Passed {
		if r.Step == "" {
			return fmt.Sprintf("%s ... TEST FAILED\n", r.Name)
		}
		return fmt.Sprintf("%s ... TEST FAILED: %s\n", r.Name, r.Step)
	}
	if r.Elapsed > 0 {
		return fmt.Sprintf("%s ... OK  %.1f seconds\n", r.Name, r.Elapsed.Seconds())
	}

	return fmt.Sprintf("%s ... OK\n", r.Name)
}
