package pipeline

import "errors"

var (
	ErrLeak     = errors.New("credential material reached the image")
	ErrNotBuilt = errors.New("no successfully built image to deploy")
)
