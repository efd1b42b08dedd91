package browser

import (
	"testing"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	sel, _, err := query(model.Locator{By: "class name", Value: "navbar"})
	require.NoError(t, err)
	assert.Equal(t, ".navbar", sel)

	sel, _, err = query(model.ID("submissionKey"))
	require.NoError(t, err)
	assert.Equal(t, "submissionKey", sel)

	sel, _, err = query(model.Locator{By: model.ByText, Value: "QUEUED"})
	require.NoError(t, err)
	assert.Equal(t, `//*[contains(text(), 'QUEUED')]`, sel)

	sel, _, err = query(model.Locator{By: model.ByText, Value: `Status: "QUEUED"`})
	require.NoError(t, err)
	assert.Equal(t, `//*[contains(text(), 'Status: "QUEUED"')]`, sel)

	sel, _, err = query(model.Locator{By: model.ByText, Value: `it's "done"`})
	require.NoError(t, err)
	assert.Equal(t, `//*[contains(text(), concat('it', "'", 's "done"'))]`, sel)

	_, _, err = query(model.Locator{By: "tag", Value: "div"})
	assert.Error(t, err)
}

func TestExistsExpression(t *testing.T) {
	expr, err := existsExpression(model.ID(`we"ird`))
	require.NoError(t, err)
	assert.Equal(t, `document.getElementById("we\"ird") !== null`, expr)

	expr, err = existsExpression(model.XPath("//div[@id='x']"))
	require.NoError(t, err)
	assert.Contains(t, expr, `document.evaluate("//div[@id='x']"`)

	expr, err = existsExpression(model.Locator{By: "class name", Value: "footer"})
	require.NoError(t, err)
	assert.Equal(t, `document.getElementsByClassName("footer").length > 0`, expr)
}

func TestScreenshotName(t *testing.T) {
	assert.Equal(t, "model_cell.html_id_3.png", ScreenshotName("/model/cell.html?id=3"))
	assert.Equal(t, "a_b_c.png", ScreenshotName("/a&b=c"))
}
