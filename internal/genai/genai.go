// Package genai provides the generative text and image model clients used by
// the metadata generation pipeline.
package genai

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrMissingField reports a structured-output response missing a required
	// field or carrying the wrong type. The pipeline fails hard on this rather
	// than substituting placeholder values.
	ErrMissingField = errors.New("generation response missing required field")
	// ErrModerationRejected reports an image request refused by the upstream
	// content moderation layer, distinguishable from other failure classes so
	// the pipeline can retry once with a softened prompt.
	ErrModerationRejected = errors.New("prompt rejected by moderation")
)

// CoinMeta is the structured output of a coin metadata generation call.
type CoinMeta struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt"`
}

// validate enforces the structured-output contract: every field present,
// string-typed and non-empty, with the symbol 3-5 uppercase characters.
func (m CoinMeta) validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if m.Symbol == "" {
		return fmt.Errorf("%w: symbol", ErrMissingField)
	}
	if len(m.Symbol) < 3 || len(m.Symbol) > 5 {
		return fmt.Errorf("%w: symbol must be 3-5 characters, got %q", ErrMissingField, m.Symbol)
	}
	if m.Description == "" {
		return fmt.Errorf("%w: description", ErrMissingField)
	}
	if m.ImagePrompt == "" {
		return fmt.Errorf("%w: image_prompt", ErrMissingField)
	}
	return nil
}
