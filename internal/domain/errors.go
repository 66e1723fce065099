package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// Submission and settlement taxonomy.
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrMarketNotActive     = errors.New("market not active")
	ErrMarketHalted        = errors.New("market halted")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvariantViolation  = errors.New("solvency invariant violated")
	ErrInvalidTransition   = errors.New("invalid market transition")
	ErrInvalidMarket       = errors.New("invalid market parameters")
)
