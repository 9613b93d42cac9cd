package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/govscout/crawlworker/internal/crawler"
)

// LinkKind distinguishes discovered link types.
type LinkKind string

// Discovered link kinds.
const (
	LinkDetail     LinkKind = "detail"
	LinkPagination LinkKind = "pagination"
)

// DiscoveredLink is a link the extractor found by applying the rule set's
// pagination or detail rules. ASP.NET postback pagers carry the postback
// target in Cursor and keep the page URL unchanged; ordinary links resolve
// against the page URL and leave Cursor empty.
type DiscoveredLink struct {
	Kind   LinkKind
	URL    string
	Cursor string
}

// Extractor applies rule sets to page bodies. It is rule-set-agnostic and
// performs no network or storage I/O.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

const postbackPrefix = "javascript:__doPostBack("

// Extract parses the body into a DOM and walks it against the rule set.
// Parsing tolerates malformed markup; zero selector matches yield zero
// records or empty fields, never an error. The only failures are an
// undecodable body or a structurally invalid rule set.
func (e *Extractor) Extract(body []byte, rules *RuleSet, pageURL string) ([]crawler.ExtractedRecord, []DiscoveredLink, error) {
	if rules == nil {
		return nil, nil, badRuleSet(fmt.Errorf("rule set is required"))
	}
	if err := rules.Validate(); err != nil {
		return nil, nil, err
	}

	utf8Body, err := decodeToUTF8(body)
	if err != nil {
		return nil, nil, &crawler.ExtractionError{Kind: crawler.ExtractionUndecodable, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8Body))
	if err != nil {
		return nil, nil, &crawler.ExtractionError{Kind: crawler.ExtractionUndecodable, Err: err}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	records := e.extractRecords(doc, rules, pageURL)
	links := e.extractLinks(doc, rules, base, pageURL)
	return records, links, nil
}

func (e *Extractor) extractRecords(doc *goquery.Document, rules *RuleSet, pageURL string) []crawler.ExtractedRecord {
	var records []crawler.ExtractedRecord
	doc.Find(rules.Record.Selector).Each(func(_ int, s *goquery.Selection) {
		fields := make([]crawler.Field, 0, len(rules.Record.Fields))
		var naturalKey string
		for _, fr := range rules.Record.Fields {
			value := extractField(s, fr)
			fields = append(fields, crawler.Field{Name: fr.Name, Value: value})
			if fr.Name == rules.Record.KeyField {
				naturalKey = value
			}
		}
		if naturalKey == "" {
			e.logger.Warn("record without natural key skipped",
				zap.String("target", rules.Target),
				zap.String("key_field", rules.Record.KeyField),
			)
			return
		}
		records = append(records, crawler.ExtractedRecord{
			NaturalKey: naturalKey,
			Fields:     fields,
			SourceURL:  pageURL,
		})
	})
	return records
}

func (e *Extractor) extractLinks(doc *goquery.Document, rules *RuleSet, base *url.URL, pageURL string) []DiscoveredLink {
	var links []DiscoveredLink
	appendLinks := func(rule *LinkRule, kind LinkKind) {
		if rule == nil {
			return
		}
		doc.Find(rule.Selector).Each(func(_ int, s *goquery.Selection) {
			raw := linkValue(s, rule)
			if raw == "" {
				return
			}
			if kind == LinkPagination && strings.HasPrefix(raw, postbackPrefix) {
				target, ok := parsePostback(raw)
				if !ok {
					e.logger.Warn("unparseable pager postback", zap.String("href", raw))
					return
				}
				links = append(links, DiscoveredLink{Kind: kind, URL: pageURL, Cursor: target})
				return
			}
			resolved := resolveURL(base, raw)
			if resolved == "" {
				return
			}
			links = append(links, DiscoveredLink{Kind: kind, URL: resolved})
		})
	}
	appendLinks(rules.Pagination, LinkPagination)
	appendLinks(rules.Detail, LinkDetail)
	return links
}

func extractField(s *goquery.Selection, fr FieldRule) string {
	sel := s.Find(fr.Selector)
	if sel.Length() == 0 {
		return ""
	}
	if fr.Attr != "" {
		value, _ := sel.First().Attr(fr.Attr)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(sel.First().Text()), " "))
}

func linkValue(s *goquery.Selection, rule *LinkRule) string {
	attr := rule.Attr
	if attr == "" {
		attr = "href"
	}
	value, _ := s.Attr(attr)
	return strings.TrimSpace(value)
}

func resolveURL(base *url.URL, raw string) string {
	if strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// parsePostback pulls the event target out of an ASP.NET pager link like
// "javascript:__doPostBack('DataGrid1$_ctl104$_ctl2','')".
func parsePostback(href string) (string, bool) {
	inner, ok := strings.CutPrefix(href, postbackPrefix)
	if !ok {
		return "", false
	}
	inner, ok = strings.CutSuffix(inner, ")")
	if !ok {
		return "", false
	}
	inner = strings.ReplaceAll(inner, "&#39;", "'")
	parts := strings.SplitN(inner, ",", 2)
	if len(parts) != 2 {
		return "", false
	}
	target := strings.TrimSpace(parts[0])
	target, ok = strings.CutPrefix(target, "'")
	if !ok {
		return "", false
	}
	target, ok = strings.CutSuffix(target, "'")
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

func decodeToUTF8(body []byte) ([]byte, error) {
	enc, name, _ := charset.DetermineEncoding(body, "")
	if name == "utf-8" {
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("body is not valid UTF-8")
		}
		return body, nil
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return nil, fmt.Errorf("decoded %s body is not valid UTF-8", name)
	}
	return decoded, nil
}
