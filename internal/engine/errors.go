package engine

import "errors"

// Configuration errors. They are returned at setup time and are fatal to
// startup; per-analyzer runtime failures never surface as errors.
var (
	ErrDuplicateAnalyzer = errors.New("analyzer already registered")
	ErrInvalidWeight     = errors.New("analyzer weight out of range")
	ErrWeightInvariant   = errors.New("analyzer weights do not sum to 1.0")
	ErrUnknownAnalyzer   = errors.New("analyzer not registered")
	ErrInvalidDescriptor = errors.New("invalid analyzer descriptor")
)
