package coordinator

import (
	"errors"
	"fmt"
)

// CategorizedError buckets failures for metrics without losing the cause.
type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return "api"
}

// ContextUnavailableError: the fast path failed before any ledger write was
// attempted. Recoverable by resubmitting.
type ContextUnavailableError struct {
	Err error
}

func (e *ContextUnavailableError) Error() string {
	return fmt.Sprintf("context store unavailable: %v", e.Err)
}

func (e *ContextUnavailableError) Unwrap() error { return e.Err }

// PartialFailureError: the context write landed but the ledger write did
// not, even after bounded retries. The correlation record stays visible for
// manual reconciliation; this error is operator-actionable, not fatal.
type PartialFailureError struct {
	Fingerprint string
	Attempts    int
	Err         error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure for %s: ledger submission failed after %d attempts: %v", e.Fingerprint, e.Attempts, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// ConsistencyFault: ledger-confirmed content and a context notification
// disagree about the same request. Logged and surfaced, never auto-resolved.
type ConsistencyFault struct {
	Fingerprint string
	Field       string
	Ledger      string
	Context     string
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault for %s: %s ledger=%q context=%q", e.Fingerprint, e.Field, e.Ledger, e.Context)
}

var ErrUnknownRecord = errors.New("no correlation record for fingerprint")
