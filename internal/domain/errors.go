package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTranslationPending  = errors.New("translation already pending for overlapping paths")
	ErrRevisionMismatch    = errors.New("document revision changed since read")
	ErrLockFailed          = errors.New("failed to lock documents")
	ErrVendorFailure       = errors.New("translation vendor request failed")
	ErrPersistFailed       = errors.New("failed to persist tracking documents")
	ErrInvalidRequest      = errors.New("invalid translation request")
	ErrUntranslatableType  = errors.New("document type not configured for translation")
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
)

// IsConflict reports whether err belongs to the caller-retryable conflict
// class: a held lock or an optimistic-concurrency failure. Conflicts are
// retryable by resubmission with fresh state, never by blind replay.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTranslationPending) || errors.Is(err, ErrRevisionMismatch)
}
