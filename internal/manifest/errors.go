package manifest

import "errors"

var (
	ErrManifest = errors.New("invalid pipeline file")
	ErrRead     = errors.New("cannot read pipeline file")
)
