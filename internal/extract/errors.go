package extract

import (
	"errors"
	"fmt"

	"github.com/hyperjump/cvpost/internal/format"
)

// ErrTooLarge is wrapped by ExtractionError when a payload exceeds the configured limit.
var ErrTooLarge = errors.New("file too large")

// UnsupportedFormatError reports a file whose name does not carry an accepted suffix.
type UnsupportedFormatError struct {
	Name string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unsupported file format: upload a %s file", format.AcceptedNames())
	}
	return fmt.Sprintf("unsupported file format %q: upload a %s file", e.Name, format.AcceptedNames())
}

// ExtractionError reports that the extractor for Kind could not produce text.
type ExtractionError struct {
	Name string
	Kind format.Kind
	Err  error
}

func (e *ExtractionError) Error() string {
	subject := e.Kind.String() + " file"
	if e.Name != "" {
		subject = fmt.Sprintf("%s file %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("could not extract text from %s: %v (accepted formats: %s)",
		subject, e.Err, format.AcceptedNames())
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
