package domain

import (
	"errors"
	"fmt"
)

// SamplingParams are the fixed generation settings sent with every prompt.
type SamplingParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// DefaultSampling returns the settings the bot has always shipped with.
func DefaultSampling() SamplingParams {
	return SamplingParams{
		MaxTokens:   500,
		Temperature: 0.5,
		TopP:        1.0,
		TopK:        250,
	}
}

type ModelErrorKind string

const (
	ModelUnavailable ModelErrorKind = "MODEL_UNAVAILABLE"
	ModelRejected    ModelErrorKind = "MODEL_REJECTED"
	ModelTimeout     ModelErrorKind = "MODEL_TIMEOUT"
)

// ModelError is the classified failure every model gateway returns.
type ModelError struct {
	Kind ModelErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model: %s", e.Kind)
	}
	return fmt.Sprintf("model: %s: %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func NewModelError(kind ModelErrorKind, err error) *ModelError {
	return &ModelError{Kind: kind, Err: err}
}

// ModelErrorKindOf classifies err, treating unclassified errors as unavailable.
func ModelErrorKindOf(err error) ModelErrorKind {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ModelUnavailable
}
