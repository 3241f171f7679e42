package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Redemption outcomes. Callers and auditors need to tell these apart,
	// so they are never collapsed into a generic failure.
	ErrAlreadyUsed        = errors.New("code already used")
	ErrExpired            = errors.New("code expired")
	ErrExternalIDConflict = errors.New("external id already bound")

	// ErrDuplicateCode is an issuance-time collision. The issuer retries with
	// a fresh code; this never reaches a caller.
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrUpstream marks a platform failure that happened after the ledger
	// commit. The binding is final; the error is for operator remediation.
	ErrUpstream = errors.New("upstream platform failure")
)
