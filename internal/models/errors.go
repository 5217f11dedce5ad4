package models

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// implementations wrap these with context via fmt.Errorf("...: %w", err).
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidSelector    = errors.New("exactly one budget selector must be supplied")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrExpired            = errors.New("authorization expired")
	ErrBudgetBlocked      = errors.New("budget blocked")
	ErrStorageFailure     = errors.New("storage failure")
	ErrTamperDetected     = errors.New("possible tampering detected")
	ErrPeriodLocked       = errors.New("period is locked")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransaction = errors.New("invalid budget transaction")
	ErrNotApproved        = errors.New("authorization is not approved")
)
