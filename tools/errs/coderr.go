package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// WithDetail returns a copy carrying the extra detail; the receiver is untouched.
func (e *CodeError) WithDetail(detail string) *CodeError {
	out := e.clone()
	if out.Detail == "" {
		out.Detail = detail
	} else {
		out.Detail += ", " + detail
	}
	return out
}

func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		retErr = retErr.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(retErr)
}

// Is matches on code so that errors.Is(err, ErrNotFound) holds for any wrapped clone.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Category is the taxonomy name reported to clients.
func (e *CodeError) Category() string {
	switch e.Code {
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeNotFound:
		return "NotFound"
	case CodeInvalidInput:
		return "InvalidInput"
	case CodeTransient:
		return "Transient"
	default:
		return "Internal"
	}
}

// As extracts the CodeError from a wrapped chain.
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// From maps any error into the taxonomy. Uncoded errors become Internal.
func From(err error) *CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := As(err); ok {
		return ce
	}
	return ErrInternal.WithDetail(err.Error())
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(errors.WithMessage(err, toString(msg, kv)))
}

// Transient classifies a store or bus failure. Errors that already carry a code keep it.
func Transient(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return WrapMsg(err, msg, kv...)
	}
	detail := toString(msg, kv)
	if detail != "" {
		detail += ": "
	}
	return errors.WithStack(ErrTransient.WithDetail(detail + err.Error()))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteString("=")
		if i+1 < len(kv) {
			b.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
