package domain

import "github.com/cockroachdb/errors"

// Error classes. Every error leaving the repository or service is marked with
// exactly one of these so callers classify it with errors.Is; handlers
// translate them to HTTP status codes in a single mapError function.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrStorage     = errors.New("storage unavailable")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Specific failures, each carrying its class mark.
var (
	ErrNoItems      = errors.Mark(errors.New("at least one item is required"), ErrValidation)
	ErrTooManyItems = errors.Mark(errors.Newf("at most %d items may be enqueued at once", MaxEnqueueItems), ErrValidation)
	ErrNoIDs        = errors.Mark(errors.New("at least one entry id is required"), ErrValidation)
	ErrTooManyIDs   = errors.Mark(errors.Newf("at most %d entry ids may be given at once", MaxEntryIDs), ErrValidation)
	ErrInvalidActor = errors.Mark(errors.New("actor must be at most 128 printable characters"), ErrValidation)
	ErrInvalidPage  = errors.Mark(errors.New("limit and offset must not be negative"), ErrValidation)
)

// NothingClaimedError is returned when a confirm could not claim any of its
// entries. AlreadyClaimed lists them so the caller can refresh its view.
type NothingClaimedError struct {
	AlreadyClaimed []string
}

func (e *NothingClaimedError) Error() string {
	return "nothing left to confirm: entries may have already been printed elsewhere"
}

// NothingToConfirm builds a NothingClaimedError classified as ErrNotFound.
func NothingToConfirm(alreadyClaimed []string) error {
	return errors.Mark(&NothingClaimedError{AlreadyClaimed: alreadyClaimed}, ErrNotFound)
}

// StorageError marks err as a retryable backing-store failure.
func StorageError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrStorage)
}

// IsRetryable reports whether err is worth another attempt. Only storage
// failures qualify; validation and not-found errors never change on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

func validationError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrValidation)
}
