package cache

import "errors"

var (
	ErrCache = errors.New("cache store failed")
	ErrBusy  = errors.New("cache store is in use by another build")
)
