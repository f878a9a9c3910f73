// Package domain holds the plain data types shared by every component:
// schedules, handlers, firings and execution records. Nothing in this
// package performs I/O.
package domain

import "errors"

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrDuplicate        = errors.New("id already exists")
	ErrInvalidTrigger   = errors.New("trigger is malformed or never fires")

	ErrHandlerUnknown = errors.New("handler unknown")
	ErrMethodUnknown  = errors.New("method not advertised by handler")
	ErrConflict       = errors.New("handler id held by a different live address")

	ErrStoreUnavailable = errors.New("schedule store unavailable")

	ErrRecordNotFound  = errors.New("execution record not found")
	ErrAlreadyTerminal = errors.New("execution record is already terminal")
)
