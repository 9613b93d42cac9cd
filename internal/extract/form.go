package extract

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// FormFields collects the submitted values of the first form in the
// document. WebForms portals validate postbacks against hidden server state
// (__VIEWSTATE, __EVENTVALIDATION), so a scripted pager event must echo the
// whole form back, not just the event fields.
//
// Button-like and unchecked controls are excluded: a __doPostBack submission
// carries no activated button.
func FormFields(body []byte) map[string]string {
	fields := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fields
	}
	form := doc.Find("form").First()
	form.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			return
		}
		switch typ, _ := s.Attr("type"); typ {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
		}
		value, _ := s.Attr("value")
		fields[name] = value
	})
	form.Find("select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			return
		}
		option := s.Find("option[selected]").First()
		if option.Length() == 0 {
			option = s.Find("option").First()
		}
		if option.Length() == 0 {
			return
		}
		value, ok := option.Attr("value")
		if !ok {
			value = option.Text()
		}
		fields[name] = value
	})
	form.Find("textarea[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			return
		}
		fields[name] = s.Text()
	})
	return fields
}
