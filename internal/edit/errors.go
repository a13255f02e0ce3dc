package edit

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindPolicy        Kind = "policy"
	KindValidation    Kind = "validation"
	KindNoop          Kind = "noop"
)

const (
	CodeNotAuthorized    = "NOT_AUTHORIZED"
	CodeNotEditable      = "NOT_EDITABLE"
	CodeAlreadyCommitted = "ALREADY_COMMITTED"
	CodeNotPremoderated  = "NOT_PREMODERATED"
	CodeEmptyTitle       = "EMPTY_TITLE"
	CodeExpired          = "EXPIRED"
	CodeCrossSectionMove = "CROSS_SECTION_MOVE"
	CodeStaleEdit        = "STALE_EDIT"
	CodeInvalidTags      = "INVALID_TAGS"
	CodeInvalidBonus     = "INVALID_BONUS"
	CodeNoChanges        = "NO_CHANGES"
)

// Error is a workflow rejection. Field is set for validation errors bound to
// one form field and empty for global ones.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

func Policy(code, message string) *Error {
	return &Error{Kind: KindPolicy, Code: code, Message: message}
}

func FieldError(field, code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Field: field}
}

func GlobalError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Noop() *Error {
	return &Error{Kind: KindNoop, Code: CodeNoChanges, Message: "no changes"}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var editErr *Error
	if errors.As(err, &editErr) {
		return editErr.Kind
	}
	return ""
}
