// Package errs defines the small error taxonomy shared across the
// reconciliation engine's components. Every sentinel here is meant to be
// tested with errors.Is after being wrapped with fmt.Errorf("...: %w", ...).
package errs

import "errors"

var (
	// ErrConfig marks a problem with the loaded configuration: a missing
	// token, an empty root list, an unparsable value. Fatal to startup.
	ErrConfig = errors.New("config error")

	// ErrTransient marks a network or remote-server error that is expected
	// to resolve itself; callers should not give up permanently on it.
	ErrTransient = errors.New("transient error")

	// ErrConsistency marks a path that cannot be resolved against any
	// known section root.
	ErrConsistency = errors.New("consistency error")

	// ErrHealth marks a file that failed the health verifier.
	ErrHealth = errors.New("health failure")

	// ErrFatalMount marks a scan root that has become unreachable.
	ErrFatalMount = errors.New("fatal mount failure")

	// ErrMassDeletion marks a sweep aborted by the mass-deletion guard.
	ErrMassDeletion = errors.New("mass deletion tripped")

	// ErrStuckExceeded marks a path that has exceeded its retry budget.
	ErrStuckExceeded = errors.New("stuck retry budget exceeded")
)

// Is reports whether err wraps target anywhere in its chain. Thin wrapper
// kept so call sites can write errs.Is(err, errs.ErrTransient) instead of
// importing both errs and errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
