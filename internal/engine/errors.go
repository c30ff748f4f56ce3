package engine

import "errors"

var (
	ErrEngine       = errors.New("engine error")
	ErrUnknownImage = errors.New("unknown image")
)
