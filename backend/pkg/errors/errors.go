package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents follow graph invariant violations
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeMetaTx represents meta-transaction (forwarder) errors
	ErrorTypeMetaTx ErrorType = "metatx"
	// ErrorTypeResource represents exhausted batch or gas budgets
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeLedger represents persistence errors
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeTransport represents malformed calls
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Graph Errors

// ErrSelfFollow is returned when an address tries to follow itself
type ErrSelfFollow struct {
	*BaseError
	Address common.Address
	Index   int
}

func NewSelfFollow(address common.Address, index int) *ErrSelfFollow {
	return &ErrSelfFollow{
		BaseError: NewBaseError(ErrorTypeGraph, "Cannot follow yourself", nil),
		Address:   address,
		Index:     index,
	}
}

// ErrAlreadyFollowing is returned when the target is already followed
type ErrAlreadyFollowing struct {
	*BaseError
	Follower common.Address
	Target   common.Address
	Index    int
}

func NewAlreadyFollowing(follower, target common.Address, index int) *ErrAlreadyFollowing {
	return &ErrAlreadyFollowing{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("Already following %s", target.Hex()), nil),
		Follower:  follower,
		Target:    target,
		Index:     index,
	}
}

// ErrNotFollowing is returned when unfollowing an address that is not followed
type ErrNotFollowing struct {
	*BaseError
	Follower common.Address
	Target   common.Address
	Index    int
}

func NewNotFollowing(follower, target common.Address, index int) *ErrNotFollowing {
	return &ErrNotFollowing{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("Not following this user: %s", target.Hex()), nil),
		Follower:  follower,
		Target:    target,
		Index:     index,
	}
}

// Meta-transaction Errors

// ErrInvalidMetaTransaction is returned when a forwarded call carries a malformed original sender
type ErrInvalidMetaTransaction struct {
	*BaseError
	Sender common.Address
	Reason string
}

func NewInvalidMetaTransaction(sender common.Address, reason string) *ErrInvalidMetaTransaction {
	return &ErrInvalidMetaTransaction{
		BaseError: NewBaseError(ErrorTypeMetaTx, fmt.Sprintf("invalid meta-transaction: %s", reason), nil),
		Sender:    sender,
		Reason:    reason,
	}
}

// Resource Errors

// ErrResourceExhausted is returned when a call runs past its batch or gas budget
type ErrResourceExhausted struct {
	*BaseError
	Operation string
	Used      uint64
	Limit     uint64
}

func NewResourceExhausted(operation string, used, limit uint64, err error) *ErrResourceExhausted {
	return &ErrResourceExhausted{
		BaseError: NewBaseError(ErrorTypeResource, fmt.Sprintf("resource exhausted: %s (%d of %d)", operation, used, limit), err),
		Operation: operation,
		Used:      used,
		Limit:     limit,
	}
}

// Ledger Errors

// ErrLedgerCommitFailed is returned when the durable ledger rejects a commit
type ErrLedgerCommitFailed struct {
	*BaseError
	Changes int
}

func NewLedgerCommitFailed(changes int, err error) *ErrLedgerCommitFailed {
	return &ErrLedgerCommitFailed{
		BaseError: NewBaseError(ErrorTypeLedger, fmt.Sprintf("failed to commit %d changes", changes), err),
		Changes:   changes,
	}
}

// ErrGraphQueryFailed is returned when a ledger query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Query string
}

func NewGraphQueryFailed(query string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeLedger, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// Transport Errors

// ErrMalformedCall is returned when calldata cannot be decoded
type ErrMalformedCall struct {
	*BaseError
	Reason string
}

func NewMalformedCall(reason string, err error) *ErrMalformedCall {
	return &ErrMalformedCall{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("malformed call: %s", reason), err),
		Reason:    reason,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// typed is satisfied by every error in this package through the embedded *BaseError
type typed interface {
	error
	errorType() ErrorType
}

func (e *BaseError) errorType() ErrorType {
	return e.Type
}

// TypeOf returns the category of the first typed error in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var t typed
	if stderrors.As(err, &t) {
		return t.errorType()
	}
	return ""
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.errorType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Graph, meta-transaction and transport errors are deterministic
	if IsErrorType(err, ErrorTypeGraph) || IsErrorType(err, ErrorTypeMetaTx) || IsErrorType(err, ErrorTypeTransport) {
		return false
	}
	// Ledger failures are usually connectivity problems
	return IsErrorType(err, ErrorTypeLedger)
}
