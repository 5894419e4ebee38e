package services

import (
	"errors"
	"fmt"

	"github.com/maelstrand/winetrade/internal/models"
)

// Error taxonomy of the offer engine. Validation errors are detected before
// any write and surfaced verbatim to the API layer; only StorageError wraps
// a transient condition worth retrying.
var (
	// ErrOfferNotFound covers both a missing offer and a tenant mismatch,
	// so callers cannot probe for existence of other tenants' offers.
	ErrOfferNotFound = errors.New("offer_not_found")
	ErrLineNotFound  = errors.New("line_not_found")
	ErrOfferLocked   = errors.New("offer_locked")
	ErrRequestNotFound = errors.New("request_not_found")
)

// InvalidTransitionError is returned when an operation is attempted from the
// wrong source status. It carries the status observed under the transaction
// so the client can render an accurate message ("already accepted", "not yet
// sent") instead of a generic failure.
type InvalidTransitionError struct {
	Op      string
	Current models.OfferStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: cannot %s offer in status %q", e.Op, e.Current)
}

// InvalidSelectionError is returned for an empty selection or line ids that
// do not belong to the offer.
type InvalidSelectionError struct {
	Reason     string // "empty_selection" or "unknown_lines"
	UnknownIDs []uint
}

func (e *InvalidSelectionError) Error() string {
	if len(e.UnknownIDs) > 0 {
		return fmt.Sprintf("invalid_selection: %s %v", e.Reason, e.UnknownIDs)
	}
	return "invalid_selection: " + e.Reason
}

// MoqNotMetError is returned when a partial selection falls short of the
// supplier's declared minimum total quantity. Shortfall lets the UI prompt
// the buyer to add bottles rather than fail silently.
type MoqNotMetError struct {
	Minimum   int
	Selected  int
	Shortfall int
}

func (e *MoqNotMetError) Error() string {
	return fmt.Sprintf("moq_not_met: selected %d of minimum %d (short %d)", e.Selected, e.Minimum, e.Shortfall)
}

// IncompleteLineError is returned when a selected line has no unit price.
type IncompleteLineError struct {
	Sequences []int
}

func (e *IncompleteLineError) Error() string {
	return fmt.Sprintf("incomplete_line: no unit price on lines %v", e.Sequences)
}

// StorageError wraps a commit/transaction failure. The engine never retries
// writes itself (retrying could double-append events); callers may retry with
// standard transient-failure backoff.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage_error: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err unless it is already one of the engine's own errors.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var (
		it *InvalidTransitionError
		is *InvalidSelectionError
		mq *MoqNotMetError
		il *IncompleteLineError
		se *StorageError
	)
	switch {
	case errors.Is(err, ErrOfferNotFound),
		errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrOfferLocked),
		errors.Is(err, ErrRequestNotFound),
		errors.As(err, &it),
		errors.As(err, &is),
		errors.As(err, &mq),
		errors.As(err, &il),
		errors.As(err, &se):
		return err
	}
	return &StorageError{Err: err}
}
