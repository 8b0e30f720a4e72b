// Package errcode defines the error kinds returned across the payment core.
// Callers branch on the Kind, never on message text.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidInput              Kind = "invalid_input"
	ProductNotFound           Kind = "product_not_found"
	ProductInactive           Kind = "product_inactive"
	OffsetExhausted           Kind = "offset_exhausted"
	AllocationConflict        Kind = "allocation_conflict"
	PaymentNotFound           Kind = "payment_not_found"
	WrongState                Kind = "wrong_state"
	OrderExpired              Kind = "order_expired"
	TransactionUnconfirmed    Kind = "transaction_unconfirmed"
	InsufficientConfirmations Kind = "insufficient_confirmations"
	NoMatchingTransfer        Kind = "no_matching_transfer"
	AmountMismatch            Kind = "amount_mismatch"
	TimestampOutOfWindow      Kind = "timestamp_out_of_window"
	ConfirmConflict           Kind = "confirm_conflict"
	StorageFailure            Kind = "storage_failure"
	LedgerUnavailable         Kind = "ledger_unavailable"
)

// Retryable reports whether the same request may succeed later unchanged.
func (k Kind) Retryable() bool {
	return k == StorageFailure || k == LedgerUnavailable
}

func (k Kind) HTTPStatus() int {
	switch k {
	case PaymentNotFound:
		return http.StatusNotFound
	case ConfirmConflict, AllocationConflict:
		return http.StatusConflict
	case OffsetExhausted:
		return http.StatusServiceUnavailable
	case LedgerUnavailable:
		return http.StatusBadGateway
	case StorageFailure:
		return http.StatusInternalServerError
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errcode.New(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message is the client facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
