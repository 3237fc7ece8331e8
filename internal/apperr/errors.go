package apperr

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the categories surfaced to API callers
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidInput Kind = "invalid_input"
	KindProvider     Kind = "provider_error"
	KindInternal     Kind = "internal"
)

// Error is a typed failure with a machine readable code
type Error struct {
	Op      string
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates a sentinel error
func New(kind Kind, code, message string) *Error {
	if message == "" {
		message = code
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so copies made by With
// still satisfy errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// With returns a copy of the error annotated with an operation and message
func (e *Error) With(op, format string, args ...any) *Error {
	cp := *e
	cp.Op = op
	if format != "" {
		cp.Message = fmt.Sprintf(format, args...)
	}
	return &cp
}

// Wrap returns a copy of the error carrying cause
func (e *Error) Wrap(op string, cause error) *Error {
	cp := *e
	cp.Op = op
	cp.Err = cause
	return &cp
}

// KindOf reports the kind of err, KindInternal when err is not typed
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, "internal_error" when err is not typed
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

var (
	ErrRaffleNotFound = New(KindNotFound, "raffle_not_found", "raffle not found")
	ErrOrderNotFound  = New(KindNotFound, "order_not_found", "order not found")

	ErrTicketUnavailable     = New(KindConflict, "ticket_unavailable", "ticket already taken")
	ErrDuplicateTicket       = New(KindConflict, "duplicate_ticket", "ticket requested more than once")
	ErrInsufficientInventory = New(KindConflict, "insufficient_inventory", "not enough tickets available")
	ErrRaffleClosed          = New(KindConflict, "raffle_closed", "raffle is not accepting orders")
	ErrRaffleLocked          = New(KindConflict, "raffle_locked", "ticket count and price cannot change once orders exist")
	ErrRaffleHasPaidOrders   = New(KindConflict, "raffle_has_paid_orders", "raffle has paid orders")
	ErrOrderNotPending       = New(KindConflict, "order_not_pending", "order is not pending")
	ErrOrderTerminal         = New(KindConflict, "order_terminal", "order is cancelled or expired")
	ErrNoEligibleTickets     = New(KindConflict, "no_eligible_tickets", "raffle has no paid tickets")
	ErrDuplicateRequest      = New(KindConflict, "duplicate_request", "a conflicting record already exists")

	ErrTicketOutOfRange = New(KindInvalidInput, "ticket_out_of_range", "ticket number out of range")
	ErrInvalidInput     = New(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidReturnURL = New(KindInvalidInput, "invalid_return_url", "return and cancel urls must use https")

	ErrProviderNotConfigured = New(KindProvider, "provider_not_configured", "payment provider is not configured")
	ErrAmountBelowMinimum    = New(KindInvalidInput, "amount_below_minimum", "amount is below the provider minimum")
	ErrProviderRequestFailed = New(KindProvider, "provider_request_failed", "payment provider request failed")
)
