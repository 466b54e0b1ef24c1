package service

import "errors"

// Sentinel errors for pipeline construction and runs.
var (
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrNoStats         = errors.New("composite pipeline has no population statistics")
	ErrPipelineFailed  = errors.New("pipeline failed")
)
