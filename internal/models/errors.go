package models

import "errors"

var (
	// ErrValidation marks content a platform rejects before any network call. Never retried.
	ErrValidation = errors.New("postflow: content failed validation")
	// ErrTransient marks failures worth retrying: timeouts, rate limits, 5xx.
	ErrTransient = errors.New("postflow: transient failure")
	// ErrAuth marks a missing, revoked or unrefreshable credential.
	ErrAuth = errors.New("postflow: credential unavailable")
	// ErrClaimConflict is returned when another dispatcher owns the post.
	ErrClaimConflict = errors.New("postflow: post already claimed")
	// ErrStore marks an unreachable or failing persistence layer. It aborts the tick.
	ErrStore = errors.New("postflow: store unavailable")

	ErrNotFound = errors.New("postflow: not found")
)

// ErrInvalidTransition is returned when a conditional status change finds the
// row in another status.
var ErrInvalidTransition = errors.New("postflow: invalid status transition")

// ErrDuplicate is returned when an account is already connected.
var ErrDuplicate = errors.New("postflow: already exists")
