package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscout/crawlworker/internal/crawler"
)

func listingRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := ParseRuleSet([]byte(validRulesDoc))
	require.NoError(t, err)
	return rs
}

const listingPage = `<!DOCTYPE html>
<html><body>
<table id="opportunities">
  <tr class="row">
    <td class="num">2026-0142</td>
    <td class="title"><a href="detail.aspx?id=142">Road Resurfacing RFP</a></td>
    <td class="due">09/15/2026</td>
  </tr>
  <tr class="row">
    <td class="num">2026-0143</td>
    <td class="title"><a href="/webs/detail.aspx?id=143">Bridge   Inspection
      Services</a></td>
    <td class="due">09/22/2026</td>
  </tr>
  <tr class="row">
    <td class="num">2026-0144</td>
    <td class="title"><a href="https://other.example.gov/144">Janitorial Contract</a></td>
    <td class="due"></td>
  </tr>
</table>
<a class="pager" href="javascript:__doPostBack('DataGrid1$_ctl104$_ctl2','')">2</a>
</body></html>`

func TestExtractListingRecords(t *testing.T) {
	t.Parallel()

	e := New(nil)
	records, links, err := e.Extract([]byte(listingPage), listingRules(t), "https://webs.example.gov/webs/search.aspx")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "2026-0142", records[0].NaturalKey)
	for _, rec := range records {
		assert.Equal(t, "https://webs.example.gov/webs/search.aspx", rec.SourceURL)
	}
	assert.Equal(t, []crawler.Field{
		{Name: "number", Value: "2026-0142"},
		{Name: "title", Value: "Road Resurfacing RFP"},
		{Name: "due", Value: "09/15/2026"},
	}, records[0].Fields)

	// Whitespace inside field text is collapsed.
	assert.Equal(t, []crawler.Field{
		{Name: "number", Value: "2026-0143"},
		{Name: "title", Value: "Bridge Inspection Services"},
		{Name: "due", Value: "09/22/2026"},
	}, records[1].Fields)

	// A field whose selector matches nothing yields an empty value, not an
	// error.
	assert.Equal(t, crawler.Field{Name: "due", Value: ""}, records[2].Fields[2])

	// One postback pager plus three detail links, resolved against the page
	// URL.
	require.Len(t, links, 4)
	assert.Equal(t, DiscoveredLink{
		Kind:   LinkPagination,
		URL:    "https://webs.example.gov/webs/search.aspx",
		Cursor: "DataGrid1$_ctl104$_ctl2",
	}, links[0])
	assert.Equal(t, DiscoveredLink{Kind: LinkDetail, URL: "https://webs.example.gov/webs/detail.aspx?id=142"}, links[1])
	assert.Equal(t, DiscoveredLink{Kind: LinkDetail, URL: "https://webs.example.gov/webs/detail.aspx?id=143"}, links[2])
	assert.Equal(t, DiscoveredLink{Kind: LinkDetail, URL: "https://other.example.gov/144"}, links[3])
}

func TestExtractZeroMatchesIsNotAnError(t *testing.T) {
	t.Parallel()

	e := New(nil)
	records, links, err := e.Extract([]byte("<html><body><p>maintenance window</p></body></html>"), listingRules(t), "https://webs.example.gov/")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, links)
}

func TestExtractToleratesMalformedMarkup(t *testing.T) {
	t.Parallel()

	// Unclosed tags and stray brackets: the parser recovers and matching
	// still works on what it could build.
	malformed := `<table id="opportunities"><tr class="row"><td class="num">2026-0150<td class="title"><a href="d.aspx?id=150">Unclosed <b>Row`
	e := New(nil)
	records, _, err := e.Extract([]byte(malformed), listingRules(t), "https://webs.example.gov/webs/search.aspx")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-0150", records[0].NaturalKey)
}

func TestExtractSkipsRecordWithoutNaturalKey(t *testing.T) {
	t.Parallel()

	page := `<table id="opportunities">
	  <tr class="row"><td class="num"></td><td class="title"><a>No Number</a></td></tr>
	  <tr class="row"><td class="num">2026-0160</td><td class="title"><a>Has Number</a></td></tr>
	</table>`
	e := New(nil)
	records, _, err := e.Extract([]byte(page), listingRules(t), "https://webs.example.gov/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-0160", records[0].NaturalKey)
}

func TestExtractDecodesLegacyCharset(t *testing.T) {
	t.Parallel()

	body := append([]byte(`<html><head><meta http-equiv="Content-Type" content="text/html; charset=iso-8859-1"></head><body><table id="opportunities"><tr class="row"><td class="num">2026-0170</td><td class="title"><a>Caf`), 0xE9)
	body = append(body, []byte(` Services</a></td></tr></table></body></html>`)...)

	e := New(nil)
	records, _, err := e.Extract(body, listingRules(t), "https://webs.example.gov/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Café Services", records[0].Fields[1].Value)
}

func TestExtractRejectsUndecodableBody(t *testing.T) {
	t.Parallel()

	body := append([]byte(`<html><head><meta charset="utf-8"></head><body>`), 0xFF, 0xFE, 0xFD)
	e := New(nil)
	_, _, err := e.Extract(body, listingRules(t), "https://webs.example.gov/")
	require.Error(t, err)
	var extractErr *crawler.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, crawler.ExtractionUndecodable, extractErr.Kind)
}

func TestExtractNilRuleSet(t *testing.T) {
	t.Parallel()

	e := New(nil)
	_, _, err := e.Extract([]byte("<html></html>"), nil, "https://webs.example.gov/")
	require.Error(t, err)
	var extractErr *crawler.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, crawler.ExtractionBadRuleSet, extractErr.Kind)
}

func TestParsePostback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		href   string
		target string
		ok     bool
	}{
		{"plain", "javascript:__doPostBack('DataGrid1$_ctl104$_ctl2','')", "DataGrid1$_ctl104$_ctl2", true},
		{"entity quotes", "javascript:__doPostBack(&#39;Grid$next&#39;,&#39;&#39;)", "Grid$next", true},
		{"not a postback", "detail.aspx?id=1", "", false},
		{"empty target", "javascript:__doPostBack('','')", "", false},
		{"no arguments", "javascript:__doPostBack('only')", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			target, ok := parsePostback(tc.href)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.target, target)
		})
	}
}
