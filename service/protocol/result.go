package protocol

import (
	errs "GProject/tools/errs"
)

// Result is the discriminated value handlers return. The dispatcher
// branches on the tag only; it never inspects the value's runtime type
// to decide whether the handler failed.
type Result struct {
	value any
	err   *errs.CodeError
}

func Ok(v any) Result {
	return Result{value: v}
}

func Fail(e *errs.CodeError) Result {
	if e == nil {
		e = errs.ErrInternal
	}
	return Result{err: e}
}

func (r Result) Failed() bool         { return r.err != nil }
func (r Result) Value() any           { return r.value }
func (r Result) Err() *errs.CodeError { return r.err }
