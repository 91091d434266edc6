package weather

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Failure kinds. Clients wrap their failures in a *SourceError carrying one of
// these so callers can branch with errors.Is.
var (
	ErrValidation     = errors.New("invalid request")
	ErrTransport      = errors.New("transport failure")
	ErrParse          = errors.New("malformed response")
	ErrNoData         = errors.New("no data in requested window")
	ErrGridResolution = errors.New("grid resolution failed")

	// ErrNoSource is returned when no registered client is reachable.
	ErrNoSource = errors.New("no weather source available")
)

// SourceError is a failure attributed to one source.
type SourceError struct {
	Source string
	Kind   error
	Err    error
}

// NewSourceError builds a SourceError of the given kind.
func NewSourceError(source string, kind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// SourceErrorf builds a SourceError whose cause is a formatted message.
func SourceErrorf(source string, kind error, format string, args ...any) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *SourceError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Attempt is the outcome of trying one source.
type Attempt struct {
	Source string
	Err    error
}

// OK reports whether the attempt succeeded.
func (a Attempt) OK() bool {
	return a.Err == nil
}

// ExhaustedError is returned when every source failed. It keeps each
// attempt's cause in the order the sources were tried.
type ExhaustedError struct {
	Lat, Lon   float64
	Start, End time.Time
	Attempts   []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all sources failed for (%.4f, %.4f) %s to %s",
		e.Lat, e.Lon, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		var se *SourceError
		if errors.As(a.Err, &se) && se.Source == a.Source {
			b.WriteString(a.Err.Error())
			continue
		}
		fmt.Fprintf(&b, "%s: %v", a.Source, a.Err)
	}
	return b.String()
}

// Unwrap exposes every attempt's error.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
