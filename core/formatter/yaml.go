package formatter

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML. Keys of each record follow the view's
// columns first, then the remaining fields in sorted order.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Name returns the formatter name.
func (f *YAMLFormatter) Name() string {
	return "yaml"
}

// Description returns the formatter description.
func (f *YAMLFormatter) Description() string {
	return "YAML output format"
}

// FormatList formats a list of records as YAML.
func (f *YAMLFormatter) FormatList(w io.Writer, view View, records []map[string]any, opts FormatOptions) error {
	data := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, record := range filterRecords(records, opts.Columns) {
		node, err := f.recordNode(view, record)
		if err != nil {
			return err
		}
		data.Content = append(data.Content, node)
	}

	doc := mapping()
	if err := appendPair(doc, "kind", view.Kind); err != nil {
		return err
	}
	if err := appendPair(doc, "count", len(records)); err != nil {
		return err
	}
	if view.Total > 0 {
		if err := appendPair(doc, "total", view.Total); err != nil {
			return err
		}
	}
	doc.Content = append(doc.Content, scalar("data"), data)
	return f.encode(w, doc)
}

// FormatRecord formats a single record as YAML.
func (f *YAMLFormatter) FormatRecord(w io.Writer, view View, record map[string]any, opts FormatOptions) error {
	doc := mapping()
	if err := appendPair(doc, "kind", view.Kind); err != nil {
		return err
	}
	if record == nil {
		if err := appendPair(doc, "data", nil); err != nil {
			return err
		}
		return f.encode(w, doc)
	}

	node, err := f.recordNode(view, filterRecord(record, opts.Columns))
	if err != nil {
		return err
	}
	doc.Content = append(doc.Content, scalar("data"), node)
	return f.encode(w, doc)
}

// FormatError formats an error as YAML.
func (f *YAMLFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()})
}

func (f *YAMLFormatter) recordNode(view View, record map[string]any) (*yaml.Node, error) {
	node := mapping()
	seen := make(map[string]bool, len(record))
	for _, col := range view.Columns {
		val, ok := record[col]
		if !ok || seen[col] {
			continue
		}
		seen[col] = true
		if err := appendPair(node, col, val); err != nil {
			return nil, err
		}
	}

	rest := make([]string, 0, len(record))
	for k := range record {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if err := appendPair(node, k, record[k]); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// encode writes YAML to the writer.
func (f *YAMLFormatter) encode(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func appendPair(m *yaml.Node, key string, val any) error {
	if val == nil {
		m.Content = append(m.Content, scalar(key), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"})
		return nil
	}
	var v yaml.Node
	if err := v.Encode(val); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.Content = append(m.Content, scalar(key), &v)
	return nil
}

func init() {
	if err := Register(NewYAMLFormatter()); err != nil {
		fmt.Printf("failed to register yaml formatter: %v\n", err)
	}
}
