package document

import "errors"

var (
	ErrNotFound       = errors.New("document not found")
	ErrParagraphIndex = errors.New("paragraph index out of range")
)
