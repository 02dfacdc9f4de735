// Package chainerr defines the typed error kinds shared across the SQL
// parser, backend, chain store, and gossip layers (spec §7).
package chainerr

import "fmt"

// Kind enumerates the error categories the core raises. Callers use
// errors.As to recover a *Error and switch on Kind rather than matching
// error strings.
type Kind string

const (
	FormatError                Kind = "FormatError"
	ParseError                 Kind = "ParseError"
	SyntaxError                Kind = "SyntaxError"
	SignatureInvalid           Kind = "SignatureInvalid"
	InconsecutiveBlock         Kind = "InconsecutiveBlock"
	PayloadInvalid              Kind = "PayloadInvalid"
	TooManyTransactions        Kind = "TooManyTransactions"
	PrivilegeRequired          Kind = "PrivilegeRequired"
	TableDoesNotExist          Kind = "TableDoesNotExist"
	TableAlreadyExists         Kind = "TableAlreadyExists"
	ColumnDoesNotExist         Kind = "ColumnDoesNotExist"
	NotInTableContext          Kind = "NotInTableContext"
	DuplicateColumns           Kind = "DuplicateColumns"
	UnboundParameter           Kind = "UnboundParameter"
	InconsistentParameterValue Kind = "InconsistentParameterValue"
	UnknownVariable            Kind = "UnknownVariable"
	UnknownFunction            Kind = "UnknownFunction"
	InvalidParameterCount      Kind = "InvalidParameterCount"
	ExecutionFailed            Kind = "ExecutionFailed"
	PeerProtocolVersion        Kind = "PeerProtocolVersion"
	PeerNotConnected           Kind = "PeerNotConnected"
	MetadataError              Kind = "MetadataError"
	ReplayMismatch             Kind = "ReplayMismatch"
)

// Error is the typed error value carried by every core failure path.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
