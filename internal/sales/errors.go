package sales

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindInvalidRequest     Kind = "InvalidRequest"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindProductNotFound    Kind = "ProductNotFound"
	KindInsufficientStock  Kind = "InsufficientStock"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindPriceMismatch      Kind = "PriceMismatch"
)

// Error is the checkout failure. Product fields are set for ProductNotFound,
// InsufficientStock and PriceMismatch; Fields for InvalidRequest.
type Error struct {
	Kind      Kind
	Message   string
	ProductID int64
	Available int
	Requested int
	Fields    map[string]string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same checkout may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindStorageUnavailable }

// KindOf classifies err; unknown errors count as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageUnavailable
}

var (
	ErrSaleNotFound      = errors.New("sale not found")
	ErrInvalidStatus     = errors.New("invalid payment status")
	ErrInvalidTransition = errors.New("payment status transition not allowed")
)

func invalid(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg, Fields: fields}
}

// storage wraps a database failure. Data exceptions (class 22) and integrity
// violations (class 23) mean the input was rejected, so they are not retryable.
func storage(msg string, err error) *Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return &Error{Kind: KindInvalidRequest, Message: msg + ": value rejected by storage", Err: err}
	}
	return &Error{Kind: KindStorageUnavailable, Message: msg, Err: err}
}
