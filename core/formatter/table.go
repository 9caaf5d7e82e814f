package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Name returns the formatter name.
func (f *TableFormatter) Name() string {
	return "table"
}

// Description returns the formatter description.
func (f *TableFormatter) Description() string {
	return "Aligned text table output"
}

// FormatList formats a list of records as a table.
func (f *TableFormatter) FormatList(w io.Writer, view View, records []map[string]any, opts FormatOptions) error {
	if len(records) == 0 {
		fmt.Fprintf(w, "No %s found.\n", plural(view.Kind))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cols := columns(view, opts, records...)

	if !opts.NoHeader {
		headers := make([]string, len(cols))
		for i, col := range cols {
			headers[i] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}

	for _, record := range records {
		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = f.formatValue(record[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	if view.Total > len(records) {
		fmt.Fprintf(w, "Showing %d of %d %s.\n", len(records), view.Total, plural(view.Kind))
	}
	return nil
}

// FormatRecord formats a single record as key-value pairs.
func (f *TableFormatter) FormatRecord(w io.Writer, view View, record map[string]any, opts FormatOptions) error {
	if record == nil {
		fmt.Fprintf(w, "No %s found.\n", view.Kind)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, col := range columns(view, opts, record) {
		// No truncation for detail view
		fmt.Fprintf(tw, "%s:\t%s\n", f.formatLabel(col), f.formatValue(record[col], 0))
	}
	return tw.Flush()
}

// FormatError formats an error message.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	_, werr := fmt.Fprintf(w, "Error: %s\n", err.Error())
	return werr
}

// formatLabel converts snake_case to Title Case.
func (f *TableFormatter) formatLabel(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatValue formats a value for display.
func (f *TableFormatter) formatValue(val any, maxWidth int) string {
	var str string
	switch v := val.(type) {
	case nil:
		return "-"
	case string:
		if v == "" {
			return "-"
		}
		str = v
	case bool:
		if v {
			str = "yes"
		} else {
			str = "no"
		}
	case float64:
		str = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		str = strconv.Itoa(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = f.formatValue(item, 0)
		}
		str = strings.Join(parts, ", ")
	default:
		b, _ := json.Marshal(v)
		str = string(b)
	}

	if maxWidth > 3 && len(str) > maxWidth {
		str = str[:maxWidth-3] + "..."
	}
	return str
}

func plural(kind string) string {
	switch {
	case kind == "":
		return "records"
	case strings.HasSuffix(kind, "s"):
		return kind
	case strings.HasSuffix(kind, "y") && !strings.HasSuffix(kind, "ay") && !strings.HasSuffix(kind, "ey"):
		return kind[:len(kind)-1] + "ies"
	default:
		return kind + "s"
	}
}

func init() {
	if err := Register(NewTableFormatter()); err != nil {
		fmt.Printf("failed to register table formatter: %v\n", err)
	}
}
