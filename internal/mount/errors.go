package mount

import "errors"

var (
	ErrMount   = errors.New("invalid mount")
	ErrScope   = errors.New("secret scope violated")
	ErrUnbound = errors.New("secret not bound")
)
