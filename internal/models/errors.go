package models

import "errors"

var (
	// ErrUnsupportedFormat indicates a file extension no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmbeddingFailure indicates the embedding provider failed or returned
	// an unusable vector.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrCompletionFailure indicates the completion service call failed.
	ErrCompletionFailure = errors.New("completion failure")

	// ErrConfiguration indicates invalid settings detected at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the vectors already stored.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrInvalidMode   = errors.New("invalid mode")
	ErrEmptyQuestion = errors.New("question is empty")
)
