// Package ipfs provides the content-addressed storage client used to pin coin
// artwork and metadata documents.
package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/coinjam/service_layer/internal/httputil"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Pinner uploads content to content-addressed storage and reports propagation.
type Pinner interface {
	// PinBytes uploads raw bytes and returns the content hash.
	PinBytes(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	// PinJSON uploads a JSON document and returns the content hash.
	PinJSON(ctx context.Context, doc interface{}) (string, error)
	// IsPinned reports whether the hash is retrievable through a public gateway.
	IsPinned(ctx context.Context, hash string) (bool, error)
}

// ContentURI builds the canonical locator for a content hash.
func ContentURI(hash string) string {
	return "ipfs://" + hash
}

// HashFromURI extracts the content hash from a canonical locator.
func HashFromURI(uri string) (string, bool) {
	hash := strings.TrimPrefix(uri, "ipfs://")
	if hash == uri || hash == "" {
		return "", false
	}
	return hash, true
}

// Client implements Pinner against a Pinata-compatible pinning API.
type Client struct {
	http       *httputil.Client
	gatewayURL string
	gateway    *http.Client
	log        *logger.Logger
}

// Config configures the pinning client.
type Config struct {
	BaseURL    string
	APIKey     string
	GatewayURL string
	Timeout    time.Duration
}

// NewClient creates a pinning client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("ipfs")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: timeout,
		}),
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		gateway:    &http.Client{Timeout: timeout},
		log:        log,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinBytes uploads data under filename and returns its content hash.
func (c *Client) PinBytes(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write upload part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close upload writer: %w", err)
	}

	resp, err := c.http.DoRaw(ctx, http.MethodPost, "/pinning/pinFileToIPFS", writer.FormDataContentType(), body)
	if err != nil {
		return "", fmt.Errorf("pin file: %w", err)
	}

	var out pinResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return "", fmt.Errorf("pin file: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pin file: empty content hash in response")
	}
	return out.IpfsHash, nil
}

// PinJSON uploads doc as a JSON document and returns its content hash.
func (c *Client) PinJSON(ctx context.Context, doc interface{}) (string, error) {
	resp, err := c.http.Post(ctx, "/pinning/pinJSONToIPFS", map[string]interface{}{
		"pinataContent": doc,
	})
	if err != nil {
		return "", fmt.Errorf("pin json: %w", err)
	}

	var out pinResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return "", fmt.Errorf("pin json: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pin json: empty content hash in response")
	}
	return out.IpfsHash, nil
}

// IsPinned probes the public gateway for the hash.
func (c *Client) IsPinned(ctx context.Context, hash string) (bool, error) {
	if c.gatewayURL == "" {
		return false, fmt.Errorf("no gateway configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.gatewayURL+"/ipfs/"+hash, nil)
	if err != nil {
		return false, fmt.Errorf("create gateway probe: %w", err)
	}
	resp, err := c.gateway.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe gateway: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// WaitForPropagation polls the gateway until the hash is retrievable or the
// attempts are exhausted. Exhaustion is reported as false with no error; the
// network tolerates eventual propagation.
func WaitForPropagation(ctx context.Context, p Pinner, hash string, attempts int, backoff time.Duration, log *logger.Logger) bool {
	if log == nil {
		log = logger.NewDefault("ipfs")
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
		}
		pinned, err := p.IsPinned(ctx, hash)
		if err != nil {
			log.WithError(err).WithField("hash", hash).Warn("gateway probe failed")
			continue
		}
		if pinned {
			return true
		}
	}
	log.WithField("hash", hash).WithField("attempts", attempts).Warn("content not yet visible on gateway")
	return false
}
