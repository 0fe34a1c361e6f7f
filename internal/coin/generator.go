package coin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coinjam/service_layer/internal/genai"
	"github.com/coinjam/service_layer/internal/ipfs"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Generator runs the metadata generation pipeline: fuse prompts, generate
// text and artwork, pin content, and return the assembled metadata. It never
// mutates session status; on failure the caller marks the session failed.
type Generator struct {
	text    TextGenerator
	image   ImageGenerator
	avatars AvatarFetcher
	pinner  ipfs.Pinner
	log     *logger.Logger

	imageSize           string
	confirmPropagation  bool
	propagationAttempts int
	propagationBackoff  time.Duration
}

// GeneratorConfig configures the pipeline.
type GeneratorConfig struct {
	ImageSize           string
	ConfirmPropagation  bool
	PropagationAttempts int
	PropagationBackoff  time.Duration
}

// NewGenerator constructs a generator.
func NewGenerator(text TextGenerator, image ImageGenerator, avatars AvatarFetcher, pinner ipfs.Pinner, cfg GeneratorConfig, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.NewDefault("coin-generator")
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = "1024x1024"
	}
	if cfg.PropagationAttempts <= 0 {
		cfg.PropagationAttempts = 5
	}
	if cfg.PropagationBackoff <= 0 {
		cfg.PropagationBackoff = 2 * time.Second
	}
	return &Generator{
		text:                text,
		image:               image,
		avatars:             avatars,
		pinner:              pinner,
		log:                 log,
		imageSize:           cfg.ImageSize,
		confirmPropagation:  cfg.ConfirmPropagation,
		propagationAttempts: cfg.PropagationAttempts,
		propagationBackoff:  cfg.PropagationBackoff,
	}
}

// metadataDoc is the JSON document pinned alongside the artwork.
type metadataDoc struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Properties  struct {
		Participants int    `json:"participants"`
		SessionID    string `json:"session_id"`
	} `json:"properties"`
}

// Run executes the pipeline for a full session and returns the generated
// metadata. Steps run strictly in order; any unrecoverable error aborts the
// run and wraps ErrPipelineFailed.
func (g *Generator) Run(ctx context.Context, sess *session.Session) (session.GeneratedMetadata, error) {
	if sess.ParticipantCount() == 0 || !sess.IsFull() {
		return session.GeneratedMetadata{}, fmt.Errorf("%w: session %s has %d of %d participants",
			ErrSessionNotReady, sess.ID, sess.ParticipantCount(), sess.MaxParticipants)
	}

	participants := sess.OrderedParticipants()
	brief := FusePrompts(participants)
	log := g.log.WithField("session_id", sess.ID)
	log.WithField("brief_len", len(brief)).Info("metadata pipeline started")

	meta, err := g.text.GenerateCoinMeta(ctx, brief)
	if err != nil {
		return session.GeneratedMetadata{}, fmt.Errorf("%w: text generation: %v", ErrPipelineFailed, err)
	}
	log.WithField("name", meta.Name).WithField("symbol", meta.Symbol).Info("coin metadata generated")

	refs := g.collectAvatars(ctx, sess, participants)

	imageBytes, err := g.generateImage(ctx, meta.ImagePrompt, sess.StylePreference, refs)
	if err != nil {
		return session.GeneratedMetadata{}, fmt.Errorf("%w: image generation: %v", ErrPipelineFailed, err)
	}

	// Image pin failure is fatal: a coin must not ship without its artwork.
	imageHash, err := g.pinner.PinBytes(ctx, imageBytes, "coin.png", "image/png")
	if err != nil {
		return session.GeneratedMetadata{}, fmt.Errorf("%w: pin image: %v", ErrPipelineFailed, err)
	}
	imageURI := ipfs.ContentURI(imageHash)

	doc := metadataDoc{
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Description: meta.Description,
		Image:       imageURI,
	}
	doc.Properties.Participants = len(participants)
	doc.Properties.SessionID = sess.ID

	metaHash, err := g.pinner.PinJSON(ctx, doc)
	if err != nil {
		return session.GeneratedMetadata{}, fmt.Errorf("%w: pin metadata: %v", ErrPipelineFailed, err)
	}

	if g.confirmPropagation {
		// Propagation is eventually consistent; a slow gateway is not fatal.
		ipfs.WaitForPropagation(ctx, g.pinner, metaHash, g.propagationAttempts, g.propagationBackoff, g.log)
	}

	log.WithField("image_hash", imageHash).WithField("meta_hash", metaHash).Info("metadata pipeline complete")
	return session.GeneratedMetadata{
		Name:               meta.Name,
		Symbol:             meta.Symbol,
		Description:        meta.Description,
		ImageContentURI:    imageURI,
		MetadataContentURI: ipfs.ContentURI(metaHash),
	}, nil
}

// collectAvatars fetches and normalizes participant avatars when the session
// asks for them. Failures are per-participant and non-fatal.
func (g *Generator) collectAvatars(ctx context.Context, sess *session.Session, participants []session.Participant) []genai.ReferenceImage {
	if !sess.IncludeAvatarsInArt || g.avatars == nil {
		return nil
	}

	var refs []genai.ReferenceImage
	for _, p := range participants {
		if p.AvatarURI == "" {
			continue
		}
		img, err := g.avatars.Fetch(ctx, p.AvatarURI)
		if err != nil {
			g.log.WithError(err).
				WithField("session_id", sess.ID).
				WithField("participant_id", p.ID).
				Warn("avatar skipped")
			continue
		}
		refs = append(refs, genai.ReferenceImage{
			Data:     img.Data,
			Filename: fmt.Sprintf("avatar-%d.%s", p.JoinIndex, img.Format),
			MIMEType: img.MIMEType(),
		})
	}
	return refs
}

// generateImage invokes the image model, composing from references when any
// are available. A moderation rejection is retried exactly once with a
// softened prompt; other error classes are not retried.
func (g *Generator) generateImage(ctx context.Context, prompt, style string, refs []genai.ReferenceImage) ([]byte, error) {
	if style != "" {
		prompt = prompt + ", " + style + " style"
	}
	opts := genai.ImageOptions{Size: g.imageSize}

	data, err := g.invokeImage(ctx, prompt, refs, opts)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, genai.ErrModerationRejected) {
		return nil, err
	}

	softened := genai.Soften(prompt)
	g.log.WithField("prompt", prompt).WithField("softened", softened).Warn("image prompt moderated, retrying softened")
	return g.invokeImage(ctx, softened, refs, opts)
}

func (g *Generator) invokeImage(ctx context.Context, prompt string, refs []genai.ReferenceImage, opts genai.ImageOptions) ([]byte, error) {
	if len(refs) > 0 {
		return g.image.Edit(ctx, prompt, refs, opts)
	}
	return g.image.Generate(ctx, prompt, opts)
}
