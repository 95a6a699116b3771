// Package extract maps raw document bytes to structured records using
// declarative selector sets. Selection rules form a closed set of variants
// evaluated by an interpreter; no reflection is involved.
package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DocKind selects the parser applied to a document.
type DocKind string

// Supported document kinds.
const (
	DocHTML DocKind = "html"
	DocXML  DocKind = "xml"
)

// RuleKind is the closed set of selection rule variants.
type RuleKind string

// Supported rule kinds. CSS rules apply to HTML documents only; XPath rules
// apply to both HTML and XML.
const (
	RuleCSS   RuleKind = "css"
	RuleXPath RuleKind = "xpath"
)

// Transform is the closed set of post-selection value transforms.
type Transform string

// Supported transforms.
const (
	TransformNone  Transform = ""
	TransformTrim  Transform = "trim"
	TransformLower Transform = "lower"
	TransformUpper Transform = "upper"
	TransformNum   Transform = "number"
)

// FieldRule selects one field's value relative to a record node.
type FieldRule struct {
	Kind      RuleKind  `mapstructure:"kind" yaml:"kind"`
	Expr      string    `mapstructure:"expr" yaml:"expr"`
	Attr      string    `mapstructure:"attr" yaml:"attr,omitempty"`
	Transform Transform `mapstructure:"transform" yaml:"transform,omitempty"`
	Required  bool      `mapstructure:"required" yaml:"required,omitempty"`
}

// RuleSet is a declarative field-mapping document: which nodes form records
// and how each field is selected from a record node.
type RuleSet struct {
	Name string  `mapstructure:"name" yaml:"name"`
	Doc  DocKind `mapstructure:"doc" yaml:"doc,omitempty"`
	// Records selects the nodes that each become one record. When empty,
	// the whole document is a single record.
	Records FieldRule `mapstructure:"records" yaml:"records,omitempty"`
	// IdentityField names the extracted field whose value becomes the
	// record's source identity (typically an item URL). Records without it
	// fall back to the document identity plus an ordinal.
	IdentityField string               `mapstructure:"identity_field" yaml:"identity_field,omitempty"`
	Fields        map[string]FieldRule `mapstructure:"fields" yaml:"fields"`
}

// Validate rejects malformed selector sets before any document is touched.
func (rs RuleSet) Validate() error {
	if rs.Name == "" {
		return fmt.Errorf("ruleset name is required")
	}
	doc := rs.Doc
	if doc == "" {
		doc = DocHTML
	}
	if doc != DocHTML && doc != DocXML {
		return fmt.Errorf("ruleset %q: unsupported doc kind %q", rs.Name, rs.Doc)
	}
	if len(rs.Fields) == 0 {
		return fmt.Errorf("ruleset %q: at least one field is required", rs.Name)
	}
	if rs.Records.Expr != "" {
		if err := validateRule(doc, rs.Records); err != nil {
			return fmt.Errorf("ruleset %q: records: %w", rs.Name, err)
		}
	}
	for name, rule := range rs.Fields {
		if rule.Expr == "" {
			return fmt.Errorf("ruleset %q: field %q: expr is required", rs.Name, name)
		}
		if err := validateRule(doc, rule); err != nil {
			return fmt.Errorf("ruleset %q: field %q: %w", rs.Name, name, err)
		}
	}
	if rs.IdentityField != "" {
		if _, ok := rs.Fields[rs.IdentityField]; !ok {
			return fmt.Errorf("ruleset %q: identity field %q is not a declared field", rs.Name, rs.IdentityField)
		}
	}
	return nil
}

func validateRule(doc DocKind, rule FieldRule) error {
	switch rule.Kind {
	case RuleCSS:
		if doc == DocXML {
			return fmt.Errorf("css rules require an html document")
		}
	case RuleXPath:
	default:
		return fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
	switch rule.Transform {
	case TransformNone, TransformTrim, TransformLower, TransformUpper, TransformNum:
	default:
		return fmt.Errorf("unsupported transform %q", rule.Transform)
	}
	return nil
}

// docKind returns the effective document kind.
func (rs RuleSet) docKind() DocKind {
	if rs.Doc == "" {
		return DocHTML
	}
	return rs.Doc
}

// LoadRuleSetFile reads one selector-set document from a YAML file.
func LoadRuleSetFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read ruleset file: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode ruleset file: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}
