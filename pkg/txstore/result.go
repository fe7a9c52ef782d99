package txstore

import "errors"

// Result accumulates the outcome of a sequence of store calls. Every error a
// store call returns is also recorded here, so batch callers can keep going
// and inspect the accumulated failures at the end.
//
// A nil *Result is valid and records nothing.
type Result struct {
	RowsAffected int64
	Errors       []error
	// Object is an optional payload set by the caller, e.g. the id of a
	// created entity.
	Object any
}

func NewResult() *Result {
	return &Result{}
}

func (r *Result) Succeeded() bool {
	return r == nil || len(r.Errors) == 0
}

// Err joins every recorded error.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Errors...)
}

// AddError records err. Nil errors are ignored.
func (r *Result) AddError(err error) {
	if r == nil || err == nil {
		return
	}
	r.Errors = append(r.Errors, err)
}

// AddRows adds n to RowsAffected.
func (r *Result) AddRows(n int64) {
	if r == nil {
		return
	}
	r.RowsAffected += n
}

// SetObject stores a payload on the result.
func (r *Result) SetObject(v any) {
	if r == nil {
		return
	}
	r.Object = v
}
