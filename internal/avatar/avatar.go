// Package avatar fetches participant avatar images and normalizes them for
// use as image-generation references.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"time"
)

// Format is a detected image container format.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWEBP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatUnknown Format = ""
)

// ErrUnsupportedFormat is returned for bytes that match no known format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// maxAvatarBytes bounds a fetched avatar.
const maxAvatarBytes = 8 << 20

// Image is a normalized avatar ready for the image model.
type Image struct {
	Data   []byte
	Format Format
}

// MIMEType returns the media type for the image format.
func (i Image) MIMEType() string {
	switch i.Format {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// Fetcher downloads and normalizes avatar images.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a fetcher with the given timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch downloads the avatar at uri, detects its format by magic bytes, and
// normalizes animated GIFs to a single still PNG frame.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Image{}, fmt.Errorf("create avatar request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("fetch avatar: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return Image{}, fmt.Errorf("read avatar body: %w", err)
	}

	return Normalize(data)
}

// Normalize detects the format of data and converts GIFs to a still PNG frame.
func Normalize(data []byte) (Image, error) {
	format := Sniff(data)
	switch format {
	case FormatPNG, FormatJPEG, FormatWEBP:
		return Image{Data: data, Format: format}, nil
	case FormatGIF:
		still, err := gifToStillPNG(data)
		if err != nil {
			return Image{}, fmt.Errorf("normalize gif: %w", err)
		}
		return Image{Data: still, Format: FormatPNG}, nil
	default:
		return Image{}, ErrUnsupportedFormat
	}
}

// Sniff detects the image format from its leading magic bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}):
		return FormatPNG
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xff, 0xd8, 0xff}):
		return FormatJPEG
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return FormatGIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	default:
		return FormatUnknown
	}
}

// gifToStillPNG decodes the first frame of a GIF and re-encodes it as PNG.
func gifToStillPNG(data []byte) ([]byte, error) {
	img, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
