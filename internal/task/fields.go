package task

import (
	"fmt"
	"strconv"
	"sync"
)

// Field is one typed configuration value of a task, addressed by a stable
// code. Values can change at runtime via the control surface; reads and
// writes are individually atomic but a task reads each field at the moment
// it needs it, not as a snapshot.
type Field interface {
	Code() string
	Label() string

	// SetString parses and applies an untyped parameter value.
	SetString(v string) error
}

// BoolField is an on/off switch.
type BoolField struct {
	code  string
	label string

	mu    sync.RWMutex
	value bool
}

// NewBoolField creates a bool field with a default value.
func NewBoolField(code, label string, def bool) *BoolField {
	return &BoolField{code: code, label: label, value: def}
}

func (f *BoolField) Code() string  { return f.code }
func (f *BoolField) Label() string { return f.label }

func (f *BoolField) Value() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *BoolField) Set(v bool) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *BoolField) SetString(v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.code, err)
	}
	f.Set(b)
	return nil
}

// IntField is a bounded integer value. Sets outside [min, max] are clamped.
type IntField struct {
	code     string
	label    string
	min, max int

	mu    sync.RWMutex
	value int
}

// NewIntField creates an int field with a default value and bounds.
func NewIntField(code, label string, def, min, max int) *IntField {
	f := &IntField{code: code, label: label, min: min, max: max}
	f.value = f.clamp(def)
	return f
}

func (f *IntField) Code() string  { return f.code }
func (f *IntField) Label() string { return f.label }

func (f *IntField) Value() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *IntField) Set(v int) {
	f.mu.Lock()
	f.value = f.clamp(v)
	f.mu.Unlock()
}

func (f *IntField) SetString(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.code, err)
	}
	f.Set(n)
	return nil
}

func (f *IntField) clamp(v int) int {
	if v < f.min {
		return f.min
	}
	if v > f.max {
		return f.max
	}
	return v
}

// SelectField is a choice among fixed options. Sets to an unknown option
// are ignored.
type SelectField struct {
	code    string
	label   string
	options []string

	mu    sync.RWMutex
	value string
}

// NewSelectField creates a select field. The default must be one of options.
func NewSelectField(code, label string, def string, options []string) *SelectField {
	return &SelectField{code: code, label: label, options: options, value: def}
}

func (f *SelectField) Code() string      { return f.code }
func (f *SelectField) Label() string     { return f.label }
func (f *SelectField) Options() []string { return f.options }

func (f *SelectField) Value() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *SelectField) Set(v string) {
	for _, opt := range f.options {
		if opt == v {
			f.mu.Lock()
			f.value = v
			f.mu.Unlock()
			return
		}
	}
}

func (f *SelectField) SetString(v string) error {
	f.Set(v)
	return nil
}

// Fields is an ordered collection of a task's fields.
type Fields struct {
	order []Field
	byKey map[string]Field
}

// NewFields builds a field set preserving declaration order.
func NewFields(fields ...Field) *Fields {
	fs := &Fields{byKey: make(map[string]Field, len(fields))}
	for _, f := range fields {
		fs.order = append(fs.order, f)
		fs.byKey[f.Code()] = f
	}
	return fs
}

// All returns the fields in declaration order.
func (fs *Fields) All() []Field {
	return fs.order
}

// Get returns the field with the given code, or nil.
func (fs *Fields) Get(code string) Field {
	return fs.byKey[code]
}

// Apply sets every parameter whose key matches a field code. Keys without a
// matching field are ignored so one parameter map can serve a whole sequence
// of tasks. The first parse failure stops application and is returned.
func (fs *Fields) Apply(params map[string]string) error {
	for key, value := range params {
		f, ok := fs.byKey[key]
		if !ok {
			continue
		}
		if err := f.SetString(value); err != nil {
			return err
		}
	}
	return nil
}
