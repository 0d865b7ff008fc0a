package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline taxonomy. Provider and parse failures are
// recoverable and handled at their call sites; index errors are fatal for
// the affected index only; an unknown method is a caller error and is
// returned synchronously.
var (
	ErrProvider      = errors.New("provider call failed")
	ErrParse         = errors.New("provider output malformed")
	ErrIndex         = errors.New("index unusable")
	ErrUnknownMethod = errors.New("unknown method")
)

// UnknownMethod builds the error returned when a caller passes a method name
// outside the accepted set.
func UnknownMethod(kind, got string, allowed ...string) error {
	return fmt.Errorf("%w: %s %q (expected one of %s)",
		ErrUnknownMethod, kind, got, strings.Join(allowed, ", "))
}
