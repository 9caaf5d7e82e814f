// Package formatter renders command output as a table, JSON or YAML.
//
// Records are generic maps, usually built from API response types with
// ToRecords. A View names the kind of record and the columns shown by
// tabular formats; JSON and YAML always carry every field.
package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Formatter converts records to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a list of records.
	FormatList(w io.Writer, view View, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single record.
	FormatRecord(w io.Writer, view View, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// View describes one kind of record.
type View struct {
	// Kind names the records, e.g. "invoice".
	Kind string
	// Columns are the fields shown by tabular formats, in order. Empty shows
	// every field in sorted order.
	Columns []string
	// Total is the number of records on the server when the list is a page;
	// 0 means the list is complete.
	Total int
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns overrides the view's columns.
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (for json).
	Compact bool

	// MaxWidth truncates long table values (0 = no limit).
	MaxWidth int
}

// columns resolves the fields to show for record.
func columns(view View, opts FormatOptions, records ...map[string]any) []string {
	if len(opts.Columns) > 0 {
		return opts.Columns
	}
	if len(view.Columns) > 0 {
		return view.Columns
	}
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// ToRecord converts v to a record through its JSON form, so json tags decide
// the field names.
func ToRecord(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to record: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("to record: %w", err)
	}
	return record, nil
}

// ToRecords converts every element of vs with ToRecord.
func ToRecords[T any](vs []T) ([]map[string]any, error) {
	records := make([]map[string]any, 0, len(vs))
	for _, v := range vs {
		r, err := ToRecord(v)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	return f, ok
}

// Default returns the default formatter.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.formatters[r.defaultFmt]
}

// SetDefault sets the default formatter.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[name]; !exists {
		return fmt.Errorf("formatter %q not registered", name)
	}

	r.defaultFmt = name
	return nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error {
	return DefaultRegistry.Register(f)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// Default returns the default formatter from the default registry.
func Default() Formatter {
	return DefaultRegistry.Default()
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}

// Lookup returns the named formatter from the default registry, or an error
// listing the available ones.
func Lookup(name string) (Formatter, error) {
	if f, ok := Get(name); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown output format %q (available: %v)", name, List())
}
