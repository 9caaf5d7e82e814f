package formatter

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Name returns the formatter name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// Description returns the formatter description.
func (f *JSONFormatter) Description() string {
	return "JSON output format"
}

// FormatList formats a list of records as JSON.
func (f *JSONFormatter) FormatList(w io.Writer, view View, records []map[string]any, opts FormatOptions) error {
	if records == nil {
		records = []map[string]any{}
	}
	output := map[string]any{
		"kind":  view.Kind,
		"count": len(records),
		"data":  filterRecords(records, opts.Columns),
	}
	if view.Total > 0 {
		output["total"] = view.Total
	}
	return f.encode(w, output, opts.Compact)
}

// FormatRecord formats a single record as JSON.
func (f *JSONFormatter) FormatRecord(w io.Writer, view View, record map[string]any, opts FormatOptions) error {
	output := map[string]any{
		"kind": view.Kind,
		"data": nil,
	}
	if record != nil {
		output["data"] = filterRecord(record, opts.Columns)
	}
	return f.encode(w, output, opts.Compact)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()}, false)
}

func (f *JSONFormatter) encode(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// filterRecords keeps only the given columns of each record; no columns keeps
// everything.
func filterRecords(records []map[string]any, columns []string) []map[string]any {
	if len(columns) == 0 {
		return records
	}
	result := make([]map[string]any, len(records))
	for i, record := range records {
		result[i] = filterRecord(record, columns)
	}
	return result
}

func filterRecord(record map[string]any, columns []string) map[string]any {
	if len(columns) == 0 {
		return record
	}
	result := make(map[string]any, len(columns))
	for _, col := range columns {
		if val, ok := record[col]; ok {
			result[col] = val
		}
	}
	return result
}

func init() {
	if err := Register(NewJSONFormatter()); err != nil {
		fmt.Printf("failed to register json formatter: %v\n", err)
	}
}
