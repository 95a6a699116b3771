package extract

import (
	"bytes"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// Engine implements pipeline.Extractor over a set of named selector sets.
type Engine struct {
	rulesets map[string]RuleSet
	clock    pipeline.Clock
}

// New builds an Engine. Every ruleset is validated up front so malformed
// selector sets fail at startup, not per task.
func New(rulesets []RuleSet, clock pipeline.Clock) (*Engine, error) {
	e := &Engine{
		rulesets: make(map[string]RuleSet, len(rulesets)),
		clock:    clock,
	}
	for _, rs := range rulesets {
		if err := rs.Validate(); err != nil {
			return nil, err
		}
		if _, dup := e.rulesets[rs.Name]; dup {
			return nil, fmt.Errorf("duplicate ruleset %q", rs.Name)
		}
		e.rulesets[rs.Name] = rs
	}
	return e, nil
}

// Extract parses body once and returns a lazy, single-pass sequence of
// records. A record missing a required field is yielded as an error without
// affecting its siblings; a document that cannot be parsed fails as a whole
// via the returned error.
func (e *Engine) Extract(body []byte, ruleset string, sourceID string) (iter.Seq2[pipeline.Record, error], error) {
	rs, ok := e.rulesets[ruleset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownRuleSet, ruleset)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &pipeline.ExtractionError{Reason: "empty body"}
	}
	if rs.docKind() == DocXML {
		return e.extractXML(body, rs, sourceID)
	}
	return e.extractHTML(body, rs, sourceID)
}

func (e *Engine) extractHTML(body []byte, rs RuleSet, sourceID string) (iter.Seq2[pipeline.Record, error], error) {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &pipeline.ExtractionError{Reason: fmt.Sprintf("parse html: %v", err)}
	}

	var recordNodes []*html.Node
	if rs.Records.Expr == "" {
		recordNodes = []*html.Node{root}
	} else if recordNodes, err = htmlNodes(root, rs.Records); err != nil {
		return nil, &pipeline.ExtractionError{Reason: err.Error()}
	}

	return func(yield func(pipeline.Record, error) bool) {
		for idx, node := range recordNodes {
			fields, fieldErr := e.htmlFields(node, rs)
			if fieldErr != nil {
				if !yield(pipeline.Record{}, fieldErr) {
					return
				}
				continue
			}
			if !yield(e.buildRecord(rs, sourceID, idx, len(recordNodes), fields), nil) {
				return
			}
		}
	}, nil
}

func (e *Engine) extractXML(body []byte, rs RuleSet, sourceID string) (iter.Seq2[pipeline.Record, error], error) {
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &pipeline.ExtractionError{Reason: fmt.Sprintf("parse xml: %v", err)}
	}

	recordNodes := []*xmlquery.Node{root}
	if rs.Records.Expr != "" {
		recordNodes, err = xmlquery.QueryAll(root, rs.Records.Expr)
		if err != nil {
			return nil, &pipeline.ExtractionError{Reason: fmt.Sprintf("records xpath %q: %v", rs.Records.Expr, err)}
		}
	}

	return func(yield func(pipeline.Record, error) bool) {
		for idx, node := range recordNodes {
			fields, fieldErr := e.xmlFields(node, rs)
			if fieldErr != nil {
				if !yield(pipeline.Record{}, fieldErr) {
					return
				}
				continue
			}
			if !yield(e.buildRecord(rs, sourceID, idx, len(recordNodes), fields), nil) {
				return
			}
		}
	}, nil
}

func (e *Engine) htmlFields(node *html.Node, rs RuleSet) (map[string]any, error) {
	fields := make(map[string]any, len(rs.Fields))
	for name, rule := range rs.Fields {
		raw, found, err := htmlValue(node, rule)
		value, err := resolveField(name, rule, raw, found, err)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

func (e *Engine) xmlFields(node *xmlquery.Node, rs RuleSet) (map[string]any, error) {
	fields := make(map[string]any, len(rs.Fields))
	for name, rule := range rs.Fields {
		raw, found, err := xmlValue(node, rule)
		value, err := resolveField(name, rule, raw, found, err)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

// resolveField applies the partial extraction policy: a missing optional
// field becomes a null value, a missing required field fails the record.
func resolveField(name string, rule FieldRule, raw string, found bool, err error) (any, error) {
	if err != nil {
		if rule.Required {
			return nil, &pipeline.ExtractionError{Field: name, Reason: err.Error()}
		}
		return nil, nil
	}
	if !found {
		if rule.Required {
			return nil, &pipeline.ExtractionError{Field: name, Reason: "no match"}
		}
		return nil, nil
	}
	value, err := applyTransform(raw, rule.Transform)
	if err != nil {
		if rule.Required {
			return nil, &pipeline.ExtractionError{Field: name, Reason: err.Error()}
		}
		return nil, nil
	}
	return value, nil
}

func (e *Engine) buildRecord(rs RuleSet, sourceID string, idx, total int, fields map[string]any) pipeline.Record {
	identity := sourceID
	if rs.IdentityField != "" {
		if s, ok := fields[rs.IdentityField].(string); ok && s != "" {
			identity = s
		}
	} else if total > 1 {
		identity = fmt.Sprintf("%s#%d", sourceID, idx)
	}
	return pipeline.Record{
		SourceID:    identity,
		Fields:      fields,
		ExtractedAt: e.clock.Now(),
	}
}

func htmlNodes(root *html.Node, rule FieldRule) ([]*html.Node, error) {
	switch rule.Kind {
	case RuleCSS:
		return goquery.NewDocumentFromNode(root).Find(rule.Expr).Nodes, nil
	case RuleXPath:
		nodes, err := htmlquery.QueryAll(root, rule.Expr)
		if err != nil {
			return nil, fmt.Errorf("records xpath %q: %w", rule.Expr, err)
		}
		return nodes, nil
	default:
		return nil, fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
}

func htmlValue(node *html.Node, rule FieldRule) (string, bool, error) {
	switch rule.Kind {
	case RuleCSS:
		sel := goquery.NewDocumentFromNode(node).Find(rule.Expr).First()
		if sel.Length() == 0 {
			return "", false, nil
		}
		if rule.Attr != "" {
			val, ok := sel.Attr(rule.Attr)
			return val, ok, nil
		}
		return sel.Text(), true, nil
	case RuleXPath:
		match, err := htmlquery.Query(node, rule.Expr)
		if err != nil {
			return "", false, fmt.Errorf("xpath %q: %w", rule.Expr, err)
		}
		if match == nil {
			return "", false, nil
		}
		if rule.Attr != "" {
			return htmlquery.SelectAttr(match, rule.Attr), true, nil
		}
		return htmlquery.InnerText(match), true, nil
	default:
		return "", false, fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
}

func xmlValue(node *xmlquery.Node, rule FieldRule) (string, bool, error) {
	match, err := xmlquery.Query(node, rule.Expr)
	if err != nil {
		return "", false, fmt.Errorf("xpath %q: %w", rule.Expr, err)
	}
	if match == nil {
		return "", false, nil
	}
	if rule.Attr != "" {
		return match.SelectAttr(rule.Attr), true, nil
	}
	return match.InnerText(), true, nil
}

func applyTransform(raw string, tr Transform) (any, error) {
	switch tr {
	case TransformNone:
		return raw, nil
	case TransformTrim:
		return strings.TrimSpace(raw), nil
	case TransformLower:
		return strings.ToLower(strings.TrimSpace(raw)), nil
	case TransformUpper:
		return strings.ToUpper(strings.TrimSpace(raw)), nil
	case TransformNum:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", strings.TrimSpace(raw))
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported transform %q", tr)
	}
}
