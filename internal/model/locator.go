package model

import (
	"fmt"
	"strings"
)

type By string

const (
	ByID        By = "id"
	ByXPath     By = "xpath"
	ByCSS       By = "css selector"
	ByClassName By = "class name"
	ByText      By = "text"
)

// Locator addresses a DOM element the way the parameter files describe it.
type Locator struct {
	By    By     `json:"by"`
	Value string `json:"element"`
}

func ID(v string) Locator    { return Locator{By: ByID, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }
func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }

func (l Locator) String() string {
	return fmt.Sprintf("(%s, %s)", l.By, l.Value)
}

// ParseBy normalizes the selector vocabulary found in parameter files.
func ParseBy(s string) (By, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "id":
		return ByID, nil
	case "xpath":
		return ByXPath, nil
	case "css", "css selector", "css_selector":
		return ByCSS, nil
	case "class", "class name", "class_name":
		return ByClassName, nil
	case "text", "link text", "partial link text":
		return ByText, nil
	default:
		return "", fmt.Errorf("unsupported locator strategy %q", s)
	}
}

// ParseLocator guesses the strategy of a bare selector: XPath when it starts with
// "/" or "(", otherwise CSS. The jQuery-like `tag:contains('text')` form becomes XPath.
func ParseLocator(sel string) Locator {
	sel = strings.TrimSpace(sel)
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		return XPath(sel)
	}
	if i := strings.Index(sel, ":contains("); i > 0 && strings.HasSuffix(sel, ")") {
		tag := sel[:i]
		text := strings.Trim(sel[i+len(":contains("):len(sel)-1], `'"`)
		return XPath(fmt.Sprintf("//%s[contains(., %s)]", tag, XPathLiteral(text)))
	}

	return CSS(sel)
}

// XPathLiteral quotes s as an XPath string literal. XPath has no escapes, so a
// value holding both quote kinds is built with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
