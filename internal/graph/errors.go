package graph

import "errors"

var (
	ErrGraph = errors.New("invalid stage graph")
	ErrCycle = errors.New("stage graph has a cycle")
)
