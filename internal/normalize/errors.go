package normalize

import (
	"fmt"

	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// ErrorKind classifies why a raw record could not be normalized.
type ErrorKind string

const (
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindUnparseableDate      ErrorKind = "unparseable_date"
	KindUnknownSource        ErrorKind = "unknown_source"
)

// NormalizationError is returned for a raw record that must be dropped.
type NormalizationError struct {
	Source models.Source
	Kind   ErrorKind
	Field  string
	Value  string
}

func (e *NormalizationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("normalize %s offer: %s: %s %q", e.Source, e.Kind, e.Field, e.Value)
	}
	return fmt.Sprintf("normalize %s offer: %s: %s", e.Source, e.Kind, e.Field)
}
