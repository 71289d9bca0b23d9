// Package namerater wraps the external generative model that critiques baby
// names. All providers return one canonical RatingResult or an error wrapping
// ErrGeneration.
package namerater

import (
	"context"
	"errors"

	"namecradle/pkg/domain"
)

// ErrGeneration indicates the upstream model was unreachable, returned
// malformed output, or the structured fields could not be parsed.
var ErrGeneration = errors.New("failed to rate name")

// Rater produces a rating for a full name. Implementations must be safe for
// concurrent use.
type Rater interface {
	Rate(ctx context.Context, firstName, lastName string, gender domain.Gender) (domain.RatingResult, error)
}

// UseRecorder receives one entry per raw model invocation so that prompt
// history can be tracked without the rater knowing about storage.
type UseRecorder interface {
	RecordPromptUse(ctx context.Context, entry domain.PromptHistoryEntry) error
}

// Sampling holds the generation parameters sent with every request. They are
// part of the prompt fingerprint, so changing any of them yields a new prompt id.
type Sampling struct {
	TopP            float64
	MinTokens       int
	Temperature     float64
	PresencePenalty float64
}

// DefaultSampling mirrors the tuned production parameters.
var DefaultSampling = Sampling{
	TopP:            0.9,
	MinTokens:       0,
	Temperature:     0.3,
	PresencePenalty: 0.1,
}
