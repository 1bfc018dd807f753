package ia64

import "errors"

var (
	errNeedOneReader = errors.New("ia64: need exactly one reader")
	errAlreadyClosed = errors.New("ia64: already closed")
)
