// Package schemaval compiles embedded JSON schemas once and converts
// validator diagnostics into typed errors.
package schemaval

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"
)

var (
	// ErrSchemaNotFound indicates an embedded schema is empty.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrValidationFailed indicates a document failed schema validation.
	ErrValidationFailed = errors.New("schema validation failed")
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/jobs/0/schedule").
	Path string

	// Message describes the validation failure.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap lets callers test with errors.Is(err, ErrValidationFailed).
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validator lazily compiles one schema.
type Validator struct {
	name   string
	source []byte

	once sync.Once
	v    *schema.Validator
	err  error
}

// New returns a Validator for the named schema. Compilation is deferred to
// first use.
func New(name string, source []byte) *Validator {
	return &Validator{name: name, source: source}
}

func (v *Validator) compiled() (*schema.Validator, error) {
	v.once.Do(func() {
		if len(v.source) == 0 {
			v.err = fmt.Errorf("%w: embedded %s schema is empty", ErrSchemaNotFound, v.name)
			return
		}
		v.v, v.err = schema.NewValidator(v.source)
		if v.err != nil {
			v.err = fmt.Errorf("failed to compile %s schema: %w", v.name, v.err)
		}
	})
	return v.v, v.err
}

// Validate checks raw JSON. It returns nil, ValidationErrors, or an error
// describing why validation could not run.
func (v *Validator) Validate(jsonData []byte) error {
	sv, err := v.compiled()
	if err != nil {
		return err
	}

	diags, err := sv.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("%s schema validation error: %w", v.name, err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		// Warnings are informational.
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
