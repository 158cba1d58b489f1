// Package reasoner defines the port for the language model backing the
// analysis stages.
package reasoner

import (
	"context"

	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// Classification is the model's reading of what a request asks for.
type Classification struct {
	Intent state.Intent `json:"intent"`
	Reason string       `json:"reason"`
}

// Reasoner is the port interface for model-backed classification and
// analysis. Analyze returns the raw model output; stages own the parsing of
// structured responses.
type Reasoner interface {
	// Classify determines the intent of a user request, optionally informed
	// by the names of attached files.
	Classify(ctx context.Context, userInput string, fileNames []string) (Classification, error)

	// Analyze runs one system+user prompt pair and returns the model text.
	Analyze(ctx context.Context, system, user string) (string, error)
}
