package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks settings that can never succeed. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrDimensionMismatch is returned when a vector length disagrees with the store or model.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrConfiguration)

	// ErrInvalidInput is returned for requests that are rejected outright.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetrievalUnavailable means the embedding model or vector store stayed unreachable.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationUnavailable means the generation model stayed unreachable.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)
