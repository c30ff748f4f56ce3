package buildx

import "errors"

var (
	ErrBuildx  = errors.New("buildx engine error")
	ErrNoImage = errors.New("build produced no image id")
)
