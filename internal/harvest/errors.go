package harvest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound indicates a record or site config is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a natural-key uniqueness violation. Callers
	// treat it as benign "already discovered".
	ErrDuplicate = errors.New("duplicate natural key")
	// ErrRendererClosed indicates the renderer was shut down.
	ErrRendererClosed = errors.New("renderer closed")
)

// NavigationFailure wraps a transport or timeout failure while rendering a
// URL. It is transient: callers log it and retry on a later cycle.
type NavigationFailure struct {
	URL string
	Err error
}

func (e *NavigationFailure) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationFailure) Unwrap() error { return e.Err }

// ExtractionFailure indicates no strategy recovered text clearing the
// minimum-length floor for a chapter page.
type ExtractionFailure struct {
	URL       string
	Attempted []string
	BestLen   int
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("no strategy extracted content from %s (tried %d, best %d chars)",
		e.URL, len(e.Attempted), e.BestLen)
}

// TranslationFailure wraps an external translation capability failure
// (quota, timeout, malformed response). No row is written; the chapter stays
// eligible for re-selection.
type TranslationFailure struct {
	Reason string
	Err    error
}

func (e *TranslationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translate: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("translate: %s", e.Reason)
}

func (e *TranslationFailure) Unwrap() error { return e.Err }

// IsNavigationFailure reports whether err is, or wraps, a navigation failure.
func IsNavigationFailure(err error) bool {
	var nf *NavigationFailure
	return errors.As(err, &nf)
}
