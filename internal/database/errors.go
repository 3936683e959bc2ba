package database

import (
	"errors"
	"fmt"
)

// Kind groups error codes by the layer that raised them
type Kind string

const (
	KindConnection  Kind = "connection"
	KindQuery       Kind = "query"
	KindTransaction Kind = "transaction"
	KindConfig      Kind = "config"
)

// Code is the stable, machine-readable error code callers switch on
type Code string

const (
	CodePoolTimeout       Code = "POOL_TIMEOUT"
	CodePoolMaxSize       Code = "POOL_MAX_SIZE"
	CodePoolInitFailed    Code = "POOL_INIT_FAILED"
	CodePoolClosed        Code = "POOL_CLOSED"
	CodeAcquireCancelled  Code = "ACQUIRE_CANCELLED"
	CodeConnectFailed     Code = "CONNECT_FAILED"
	CodeQueryFailed       Code = "QUERY_FAILED"
	CodeTransactionFailed Code = "TRANSACTION_FAILED"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
)

// Sentinels for errors.Is; matching is done on Code only.
var (
	ErrPoolTimeout       = &Error{Kind: KindConnection, Code: CodePoolTimeout}
	ErrPoolMaxSize       = &Error{Kind: KindConnection, Code: CodePoolMaxSize}
	ErrPoolInitFailed    = &Error{Kind: KindConnection, Code: CodePoolInitFailed}
	ErrPoolClosed        = &Error{Kind: KindConnection, Code: CodePoolClosed}
	ErrConnectFailed     = &Error{Kind: KindConnection, Code: CodeConnectFailed}
	ErrQueryFailed       = &Error{Kind: KindQuery, Code: CodeQueryFailed}
	ErrTransactionFailed = &Error{Kind: KindTransaction, Code: CodeTransactionFailed}
	ErrInvalidConfig     = &Error{Kind: KindConfig, Code: CodeInvalidConfig}
)

// Error represents a database error
type Error struct {
	Kind    Kind   // Error family
	Code    Code   // Error code
	Message string // Error message
	Op      string // Operation that failed
	Err     error  // Original error if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same error code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// NewError creates a new database error
func NewError(kind Kind, code Code, message string, op string, err error) error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// NewConnectionError creates a connection-level error
func NewConnectionError(code Code, op, message string, err error) error {
	return NewError(KindConnection, code, message, op, err)
}

// NewQueryError wraps the last failure of an exhausted execute call
func NewQueryError(op string, err error) error {
	return NewError(KindQuery, CodeQueryFailed, "query failed", op, err)
}

// NewTransactionError wraps a failure raised inside a transaction scope
func NewTransactionError(op string, err error) error {
	return NewError(KindTransaction, CodeTransactionFailed, "transaction failed", op, err)
}

// CodeOf returns the code of the outermost *Error in err's chain
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConnectionError reports whether err is a connection-level error
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// IsQueryError reports whether err is a query error
func IsQueryError(err error) bool {
	return KindOf(err) == KindQuery
}

// IsTransactionError reports whether err is a transaction error
func IsTransactionError(err error) bool {
	return KindOf(err) == KindTransaction
}
