package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coinjam/service_layer/internal/httputil"
)

// TextClient calls the generative text model for structured coin metadata.
type TextClient struct {
	http    *httputil.Client
	model   string
	limiter *rate.Limiter
}

// TextConfig configures the text client.
type TextConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerMin int
}

// NewTextClient creates a text generation client.
func NewTextClient(cfg TextConfig) *TextClient {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	ratePerMin := cfg.RatePerMin
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	return &TextClient{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin),
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// coinMetaSchema describes exactly the four required string fields.
var coinMetaSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":         map[string]any{"type": "string"},
		"symbol":       map[string]any{"type": "string"},
		"description":  map[string]any{"type": "string"},
		"image_prompt": map[string]any{"type": "string"},
	},
	"required":             []string{"name", "symbol", "description", "image_prompt"},
	"additionalProperties": false,
}

const coinMetaInstruction = `You are naming a community-created memecoin. Given the combined creative brief below, produce:
- name: a short, punchy coin name
- symbol: a 3-5 character uppercase ticker symbol
- description: one or two sentences describing the coin's theme
- image_prompt: a vivid prompt for generating the coin's artwork

Brief: %s`

// GenerateCoinMeta requests structured coin metadata for the fused brief. Any
// missing or mistyped field in the response is a hard failure; there is no
// placeholder fallback.
func (c *TextClient) GenerateCoinMeta(ctx context.Context, brief string) (CoinMeta, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return CoinMeta{}, err
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(coinMetaInstruction, brief)},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   "coin_meta",
				Strict: true,
				Schema: coinMetaSchema,
			},
		},
	}

	resp, err := c.http.Post(ctx, "/chat/completions", req)
	if err != nil {
		return CoinMeta{}, fmt.Errorf("text generation: %w", err)
	}

	var body chatResponse
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return CoinMeta{}, fmt.Errorf("text generation: %w", err)
	}
	if len(body.Choices) == 0 {
		return CoinMeta{}, fmt.Errorf("text generation: empty response")
	}

	meta, err := parseCoinMeta(body.Choices[0].Message.Content)
	if err != nil {
		return CoinMeta{}, err
	}
	return meta, nil
}

// parseCoinMeta decodes and validates the model's JSON content. Fields are
// checked individually so a wrong-typed field reports which one.
func parseCoinMeta(content string) (CoinMeta, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return CoinMeta{}, fmt.Errorf("decode generation content: %w", err)
	}

	var meta CoinMeta
	fields := []struct {
		key string
		dst *string
	}{
		{"name", &meta.Name},
		{"symbol", &meta.Symbol},
		{"description", &meta.Description},
		{"image_prompt", &meta.ImagePrompt},
	}
	for _, f := range fields {
		rawVal, ok := raw[f.key]
		if !ok {
			return CoinMeta{}, fmt.Errorf("%w: %s", ErrMissingField, f.key)
		}
		if err := json.Unmarshal(rawVal, f.dst); err != nil {
			return CoinMeta{}, fmt.Errorf("%w: %s is not a string", ErrMissingField, f.key)
		}
		*f.dst = strings.TrimSpace(*f.dst)
	}

	meta.Symbol = strings.ToUpper(meta.Symbol)
	if err := meta.validate(); err != nil {
		return CoinMeta{}, err
	}
	return meta, nil
}
