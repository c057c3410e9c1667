// Package validators checks user supplied fields and reports every problem
// as a ValidationResult that can be shown to a caller or turned into an error.
package validators

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalid is matched by every error built from failed validations.
var ErrInvalid = errors.New("validation failed")

// ValidationCode classifies a result.
type ValidationCode string

const (
	ValidationCodeSuccess    ValidationCode = "success"
	ValidationCodeRequired   ValidationCode = "required"
	ValidationCodeInvalid    ValidationCode = "invalid"
	ValidationCodeOutOfRange ValidationCode = "out_of_range"
)

// ValidationResult is the outcome of checking one field.
type ValidationResult struct {
	IsValid         bool           `json:"is_valid"`
	FieldName       string         `json:"field_name"`
	Value           string         `json:"value"`
	Message         string         `json:"message,omitempty"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
	ValidationCode  ValidationCode `json:"validation_code"`
}

func success(fieldName, value string) *ValidationResult {
	return &ValidationResult{IsValid: true, FieldName: fieldName, Value: value, ValidationCode: ValidationCodeSuccess}
}

func failure(fieldName, value string, code ValidationCode, message, action string) *ValidationResult {
	return &ValidationResult{
		FieldName:       fieldName,
		Value:           value,
		Message:         message,
		SuggestedAction: action,
		ValidationCode:  code,
	}
}

// Err returns nil for a valid result and an error matching ErrInvalid
// otherwise.
func (vr *ValidationResult) Err() error {
	if vr == nil || vr.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalid, vr.FieldName, vr.Message)
}

// FieldValidations holds every result reported for one field.
type FieldValidations struct {
	FieldName   string              `json:"field_name"`
	Validations []*ValidationResult `json:"validations"`
}

// HasErrors reports whether any result failed.
func (f *FieldValidations) HasErrors() bool {
	return slices.ContainsFunc(f.Validations, func(v *ValidationResult) bool { return !v.IsValid })
}

// FieldValidationResults lists fields ordered by name.
type FieldValidationResults []*FieldValidations

// HasErrors reports whether any field failed.
func (f FieldValidationResults) HasErrors() bool {
	return slices.ContainsFunc(f, (*FieldValidations).HasErrors)
}

// Err joins every failed validation into one error matching ErrInvalid.
func (f FieldValidationResults) Err() error {
	var msgs []string
	for _, fv := range f {
		for _, v := range fv.Validations {
			if !v.IsValid {
				msgs = append(msgs, v.FieldName+": "+v.Message)
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// ValidationBuilder collects results across fields.
type ValidationBuilder struct {
	results map[string][]*ValidationResult
}

func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{results: make(map[string][]*ValidationResult)}
}

// Add records a result under its field name.
func (b *ValidationBuilder) Add(result *ValidationResult) *ValidationBuilder {
	b.results[result.FieldName] = append(b.results[result.FieldName], result)
	return b
}

// Build groups the results by field.
func (b *ValidationBuilder) Build() FieldValidationResults {
	out := make(FieldValidationResults, 0, len(b.results))
	for name, results := range b.results {
		out = append(out, &FieldValidations{FieldName: name, Validations: results})
	}
	slices.SortFunc(out, func(a, b *FieldValidations) int { return strings.Compare(a.FieldName, b.FieldName) })
	return out
}

// Err is shorthand for Build().Err().
func (b *ValidationBuilder) Err() error {
	return b.Build().Err()
}
