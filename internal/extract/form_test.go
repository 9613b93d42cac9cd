package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormFieldsCapturesHiddenState(t *testing.T) {
	t.Parallel()

	page := `<html><body>
	<form id="Form1" method="post" action="search.aspx">
	  <input type="hidden" name="__VIEWSTATE" value="dDwtMTI3OTMzNDM4NDs7P==" />
	  <input type="hidden" name="__EVENTVALIDATION" value="/wEWAgLB=" />
	  <input type="hidden" name="__EVENTTARGET" value="" />
	  <input type="text" name="txtSearch" value="roads" />
	  <input type="checkbox" name="chkOpen" value="on" checked />
	  <input type="checkbox" name="chkClosed" value="on" />
	  <input type="radio" name="scope" value="all" />
	  <input type="radio" name="scope" value="county" checked />
	  <input type="submit" name="btnSearch" value="Search" />
	  <select name="ddlCategory">
	    <option value="0">All</option>
	    <option value="7" selected>Construction</option>
	  </select>
	  <textarea name="notes">none</textarea>
	</form>
	</body></html>`

	fields := FormFields([]byte(page))
	assert.Equal(t, "dDwtMTI3OTMzNDM4NDs7P==", fields["__VIEWSTATE"])
	assert.Equal(t, "/wEWAgLB=", fields["__EVENTVALIDATION"])
	assert.Equal(t, "", fields["__EVENTTARGET"])
	assert.Equal(t, "roads", fields["txtSearch"])
	assert.Equal(t, "on", fields["chkOpen"])
	assert.Equal(t, "county", fields["scope"])
	assert.Equal(t, "7", fields["ddlCategory"])
	assert.Equal(t, "none", fields["notes"])

	_, hasButton := fields["btnSearch"]
	assert.False(t, hasButton, "submit buttons are not part of a scripted postback")
	_, hasUnchecked := fields["chkClosed"]
	assert.False(t, hasUnchecked)
}

func TestFormFieldsSelectWithoutSelection(t *testing.T) {
	t.Parallel()

	page := `<form><select name="ddl"><option value="first">A</option><option value="second">B</option></select></form>`
	fields := FormFields([]byte(page))
	assert.Equal(t, "first", fields["ddl"], "browsers submit the first option when none is selected")
}

func TestFormFieldsIgnoresLaterForms(t *testing.T) {
	t.Parallel()

	page := `<form><input type="hidden" name="a" value="1" /></form>
	<form><input type="hidden" name="b" value="2" /></form>`
	fields := FormFields([]byte(page))
	require.Contains(t, fields, "a")
	assert.NotContains(t, fields, "b")
}

func TestFormFieldsNoForm(t *testing.T) {
	t.Parallel()

	fields := FormFields([]byte("<html><body><p>nothing here</p></body></html>"))
	assert.Empty(t, fields)
}
