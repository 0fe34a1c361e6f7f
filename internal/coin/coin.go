// Package coin implements the coin-creation pipeline: prompt fusion and
// metadata generation, on-chain deployment with bounded retries, and pro-rata
// token distribution to session participants.
package coin

import (
	"context"
	"errors"
	"strings"

	"github.com/coinjam/service_layer/internal/avatar"
	"github.com/coinjam/service_layer/internal/genai"
	"github.com/coinjam/service_layer/internal/session"
)

// Errors
var (
	// ErrPipelineFailed is terminal for a generation run; the caller owns
	// marking the session failed.
	ErrPipelineFailed = errors.New("metadata pipeline failed")
	// ErrDeploymentFailed reports an exhausted deployment retry loop.
	ErrDeploymentFailed = errors.New("coin deployment failed")
	// ErrSessionNotReady reports a trigger against a session in the wrong
	// state for the requested step.
	ErrSessionNotReady = errors.New("session not ready for this step")
)

// TextGenerator produces structured coin metadata from a fused brief.
type TextGenerator interface {
	GenerateCoinMeta(ctx context.Context, brief string) (genai.CoinMeta, error)
}

// ImageGenerator produces coin artwork, plain or composed from references.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, opts genai.ImageOptions) ([]byte, error)
	Edit(ctx context.Context, prompt string, refs []genai.ReferenceImage, opts genai.ImageOptions) ([]byte, error)
}

// AvatarFetcher downloads and normalizes participant avatars.
type AvatarFetcher interface {
	Fetch(ctx context.Context, uri string) (avatar.Image, error)
}

// PromptSeparator joins participant prompts in the fused brief.
const PromptSeparator = " | "

// FusePrompts concatenates participant prompts in join order with the fixed
// separator. It is a pure function of its input: the same participants in the
// same order always fuse identically.
func FusePrompts(participants []session.Participant) string {
	prompts := make([]string, 0, len(participants))
	for _, p := range participants {
		prompts = append(prompts, strings.TrimSpace(p.PromptText))
	}
	return strings.Join(prompts, PromptSeparator)
}
