// Package extract turns fetched HTML into structured records and discovered
// links by applying a declarative rule set. The package contains no
// site-specific logic: everything source-dependent arrives as data.
package extract

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/govscout/crawlworker/internal/crawler"
)

// FieldRule locates one field relative to a record boundary. When Attr is
// empty the field value is the element's text content.
type FieldRule struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// RecordRule names the record boundary and its fields. KeyField must be the
// name of a declared field; its value becomes the record's natural key.
type RecordRule struct {
	Selector string      `yaml:"selector"`
	KeyField string      `yaml:"key_field"`
	Fields   []FieldRule `yaml:"fields"`
}

// LinkRule locates links to follow (pagination or detail pages).
type LinkRule struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// RuleSet is the declarative extraction document for one crawl target.
type RuleSet struct {
	Target     string     `yaml:"target"`
	Record     RecordRule `yaml:"record"`
	Pagination *LinkRule  `yaml:"pagination,omitempty"`
	Detail     *LinkRule  `yaml:"detail,omitempty"`
}

// ParseRuleSet decodes and validates a YAML rule set document.
func ParseRuleSet(doc []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(doc, &rs); err != nil {
		return nil, &crawler.ExtractionError{
			Kind: crawler.ExtractionBadRuleSet,
			Err:  fmt.Errorf("decode rule set: %w", err),
		}
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the rule set's structure and compiles every selector.
func (rs *RuleSet) Validate() error {
	if rs.Target == "" {
		return badRuleSet(fmt.Errorf("target is required"))
	}
	if rs.Record.Selector == "" {
		return badRuleSet(fmt.Errorf("record.selector is required"))
	}
	if err := compileSelector("record.selector", rs.Record.Selector); err != nil {
		return err
	}
	if len(rs.Record.Fields) == 0 {
		return badRuleSet(fmt.Errorf("record.fields must not be empty"))
	}
	fieldNames := make(map[string]bool, len(rs.Record.Fields))
	for i, f := range rs.Record.Fields {
		if f.Name == "" {
			return badRuleSet(fmt.Errorf("record.fields[%d].name is required", i))
		}
		if fieldNames[f.Name] {
			return badRuleSet(fmt.Errorf("duplicate field %q", f.Name))
		}
		fieldNames[f.Name] = true
		if f.Selector == "" {
			return badRuleSet(fmt.Errorf("field %q: selector is required", f.Name))
		}
		if err := compileSelector(fmt.Sprintf("field %q", f.Name), f.Selector); err != nil {
			return err
		}
	}
	if rs.Record.KeyField == "" {
		return badRuleSet(fmt.Errorf("record.key_field is required"))
	}
	if !fieldNames[rs.Record.KeyField] {
		return badRuleSet(fmt.Errorf("record.key_field %q references an undefined field", rs.Record.KeyField))
	}
	if rs.Pagination != nil {
		if err := compileSelector("pagination.selector", rs.Pagination.Selector); err != nil {
			return err
		}
	}
	if rs.Detail != nil {
		if err := compileSelector("detail.selector", rs.Detail.Selector); err != nil {
			return err
		}
	}
	return nil
}

func compileSelector(where, sel string) error {
	if _, err := cascadia.Parse(sel); err != nil {
		return badRuleSet(fmt.Errorf("%s: invalid selector %q: %w", where, sel, err))
	}
	return nil
}

func badRuleSet(err error) error {
	return &crawler.ExtractionError{Kind: crawler.ExtractionBadRuleSet, Err: err}
}
