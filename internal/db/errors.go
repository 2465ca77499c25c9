package db

import "errors"

// Domain-level database error sentinels.
var (
	// ErrNoLedger is returned when no database is configured.
	ErrNoLedger = errors.New("attribution ledger not configured")

	// ErrBeaconNotFound is returned when a fire key has no ledger row.
	ErrBeaconNotFound = errors.New("beacon fire not found")
)
