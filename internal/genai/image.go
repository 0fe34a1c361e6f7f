package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coinjam/service_layer/internal/httputil"
)

// ReferenceImage is a normalized avatar supplied to the edit/compose mode.
type ReferenceImage struct {
	Data     []byte
	Filename string
	MIMEType string
}

// ImageOptions tunes an image generation call.
type ImageOptions struct {
	Size    string
	Quality string
}

// ImageClient calls the generative image model.
type ImageClient struct {
	http    *httputil.Client
	model   string
	limiter *rate.Limiter
	fetcher *http.Client
}

// ImageConfig configures the image client.
type ImageConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerMin int
}

// NewImageClient creates an image generation client.
func NewImageClient(cfg ImageConfig) *ImageClient {
	model := cfg.Model
	if model == "" {
		model = "gpt-image-1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	ratePerMin := cfg.RatePerMin
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	return &ImageClient{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: timeout,
		}),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin),
		fetcher: &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
	Error *imageError `json:"error,omitempty"`
}

type imageError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Generate produces image bytes from a plain prompt.
func (c *ImageClient) Generate(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := imageRequest{
		Model:   c.model,
		Prompt:  prompt,
		N:       1,
		Size:    opts.Size,
		Quality: opts.Quality,
	}
	resp, err := c.http.Post(ctx, "/images/generations", req)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	return c.extractImage(ctx, resp)
}

// Edit produces image bytes from a prompt and reference images, instructing
// the model to reflect every supplied reference in the output.
func (c *ImageClient) Edit(ctx context.Context, prompt string, refs []ReferenceImage, opts ImageOptions) ([]byte, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("image edit: at least one reference image required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for i, ref := range refs {
		filename := ref.Filename
		if filename == "" {
			filename = fmt.Sprintf("reference-%d.png", i)
		}
		part, err := writer.CreateFormFile("image[]", filename)
		if err != nil {
			return nil, fmt.Errorf("image edit: create part: %w", err)
		}
		if _, err := part.Write(ref.Data); err != nil {
			return nil, fmt.Errorf("image edit: write part: %w", err)
		}
	}

	composed := fmt.Sprintf("%s. Incorporate every one of the %d supplied reference images into the artwork.", prompt, len(refs))
	if err := writer.WriteField("prompt", composed); err != nil {
		return nil, fmt.Errorf("image edit: write prompt: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return nil, fmt.Errorf("image edit: write model: %w", err)
	}
	if opts.Size != "" {
		if err := writer.WriteField("size", opts.Size); err != nil {
			return nil, fmt.Errorf("image edit: write size: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("image edit: close writer: %w", err)
	}

	resp, err := c.http.DoRaw(ctx, http.MethodPost, "/images/edits", writer.FormDataContentType(), body)
	if err != nil {
		return nil, fmt.Errorf("image edit: %w", err)
	}
	return c.extractImage(ctx, resp)
}

// extractImage decodes an images API response, classifying moderation
// rejections, and resolves URL-form results to bytes.
func (c *ImageClient) extractImage(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read image response: %w", err)
	}

	var body imageResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode image response (status %d): %w", resp.StatusCode, err)
	}

	if body.Error != nil {
		if isModerationError(body.Error) {
			return nil, fmt.Errorf("%w: %s", ErrModerationRejected, body.Error.Message)
		}
		return nil, fmt.Errorf("image model error: %s (%s)", body.Error.Message, body.Error.Code)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("image request failed with status %d", resp.StatusCode)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("image response contained no data")
	}

	item := body.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode image base64: %w", err)
		}
		return data, nil
	}
	if item.URL != "" {
		return c.fetchURL(ctx, item.URL)
	}
	return nil, fmt.Errorf("image response carried neither bytes nor url")
}

func (c *ImageClient) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create image fetch request: %w", err)
	}
	resp, err := c.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch generated image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read generated image: %w", err)
	}
	return data, nil
}

// isModerationError matches the upstream codes used for content policy
// rejections.
func isModerationError(e *imageError) bool {
	code := strings.ToLower(e.Code)
	return code == "moderation_blocked" ||
		code == "content_policy_violation" ||
		strings.Contains(strings.ToLower(e.Message), "safety system")
}
