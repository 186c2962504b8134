package service

import "errors"

// Every rejection the matching core can produce. Operations never apply
// partial effects: all precondition checks run before any mutation, and
// a returned error means nothing changed.
var (
	ErrAlreadyExists      = errors.New("profile already exists for identity")
	ErrNotRegistered      = errors.New("identity has no profile")
	ErrTargetNotFound     = errors.New("target has no profile")
	ErrSelfMatchForbidden = errors.New("cannot compare an identity against itself")
	ErrAlreadyMatched     = errors.New("identities are already matched")
	ErrComparisonPending  = errors.New("an undecided comparison already exists for this pair")
	ErrEmptyBatch         = errors.New("batch contains no targets")
	ErrBatchTooLarge      = errors.New("batch exceeds the target cap")
	ErrNotFound           = errors.New("unknown match request")
	ErrUnauthorized       = errors.New("caller is not a party to this match request")
	ErrAlreadyRequested   = errors.New("decryption already requested for this half")
	ErrAlreadyDecrypted   = errors.New("this half is already decrypted")
	ErrSessionClosed      = errors.New("matching session has ended")
	ErrQueueFull          = errors.New("comparison queue is full")

	// ErrNotReady is transient: the oracle has not produced the
	// plaintext yet. Callers retry finalize; it is not a failure of the
	// request.
	ErrNotReady = errors.New("decryption not ready yet")
)
