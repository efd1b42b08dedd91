package browser

import (
	"fmt"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

// query converts a locator into a chromedp selector and its query option.
func query(loc model.Locator) (string, chromedp.QueryOption, error) {
	by, err := model.ParseBy(string(loc.By))
	if err != nil {
		return "", nil, err
	}
	switch by {
	case model.ByID:
		return loc.Value, chromedp.ByID, nil
	case model.ByCSS:
		return loc.Value, chromedp.ByQuery, nil
	case model.ByClassName:
		return "." + loc.Value, chromedp.ByQuery, nil
	case model.ByXPath:
		return loc.Value, chromedp.BySearch, nil
	case model.ByText:
		return fmt.Sprintf("//*[contains(text(), %s)]", model.XPathLiteral(loc.Value)), chromedp.BySearch, nil
	}

	return "", nil, fmt.Errorf("unsupported locator %s", loc)
}

// existsExpression returns a JavaScript expression evaluating to true when the
// element is in the DOM. It never blocks, unlike the chromedp queries.
func existsExpression(loc model.Locator) (string, error) {
	by, err := model.ParseBy(string(loc.By))
	if err != nil {
		return "", err
	}
	v := jsString(loc.Value)
	switch by {
	case model.ByID:
		return fmt.Sprintf(`document.getElementById(%s) !== null`, v), nil
	case model.ByCSS:
		return fmt.Sprintf(`document.querySelector(%s) !== null`, v), nil
	case model.ByClassName:
		return fmt.Sprintf(`document.getElementsByClassName(%s).length > 0`, v), nil
	case model.ByXPath:
		return fmt.Sprintf(`document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null)`+
			`.singleNodeValue !== null`, v), nil
	case model.ByText:
		return textVisibleExpression(loc.Value), nil
	}

	return "", fmt.Errorf("unsupported locator %s", loc)
}

func textVisibleExpression(text string) string {
	return fmt.Sprintf(`!!document.body && document.body.innerText.includes(%s)`, jsString(text))
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s)
	return string(b)
}
