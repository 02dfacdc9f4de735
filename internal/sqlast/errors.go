package sqlast

import (
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
)

// ParseError is a parse failure at a specific byte offset. Parse()
// converts it to a *chainerr.Error with Kind chainerr.ParseError before
// returning to the caller.
type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at byte %d: %s", e.Pos, e.Message)
}

// asChainError converts any error from the lexer/parser into a
// *chainerr.Error, preserving position information in the message.
func asChainError(err error) *chainerr.Error {
	if err == nil {
		return nil
	}
	if ke, ok := err.(*kindError); ok {
		return chainerr.New(ke.Kind, ke.Message)
	}
	if pe, ok := err.(*ParseError); ok {
		return chainerr.New(chainerr.ParseError, pe.Error())
	}
	return chainerr.Wrap(chainerr.ParseError, "parse failed", err)
}

// kindError lets a parser production raise a specific chainerr.Kind
// (e.g. DuplicateColumns) instead of the generic ParseError kind.
type kindError struct {
	Kind    chainerr.Kind
	Message string
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func newKindError(kind chainerr.Kind, format string, args ...interface{}) *kindError {
	return &kindError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
