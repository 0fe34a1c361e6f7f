package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoinMeta_Valid(t *testing.T) {
	meta, err := parseCoinMeta(`{"name":"LaserCat","symbol":"lcat","description":"a cat with lasers","image_prompt":"neon cat"}`)
	require.NoError(t, err)
	assert.Equal(t, "LaserCat", meta.Name)
	assert.Equal(t, "LCAT", meta.Symbol, "symbol should be uppercased")
	assert.Equal(t, "neon cat", meta.ImagePrompt)
}

func TestParseCoinMeta_FailsHard(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing name", `{"symbol":"ABC","description":"d","image_prompt":"p"}`},
		{"missing symbol", `{"name":"N","description":"d","image_prompt":"p"}`},
		{"missing description", `{"name":"N","symbol":"ABC","image_prompt":"p"}`},
		{"missing image prompt", `{"name":"N","symbol":"ABC","description":"d"}`},
		{"numeric symbol", `{"name":"N","symbol":123,"description":"d","image_prompt":"p"}`},
		{"null field", `{"name":null,"symbol":"ABC","description":"d","image_prompt":"p"}`},
		{"empty name", `{"name":"","symbol":"ABC","description":"d","image_prompt":"p"}`},
		{"symbol too short", `{"name":"N","symbol":"AB","description":"d","image_prompt":"p"}`},
		{"symbol too long", `{"name":"N","symbol":"ABCDEF","description":"d","image_prompt":"p"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCoinMeta(tc.content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingField), "expected ErrMissingField, got %v", err)
		})
	}
}

func TestParseCoinMeta_RejectsNonJSON(t *testing.T) {
	_, err := parseCoinMeta("sure! here is your coin: LaserCat")
	require.Error(t, err)
}

func TestTextClient_GenerateCoinMeta(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": `{"name":"LaserCat","symbol":"LCAT","description":"pew","image_prompt":"neon cat"}`,
				}},
			},
		})
	}))
	defer srv.Close()

	client := NewTextClient(TextConfig{BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	meta, err := client.GenerateCoinMeta(context.Background(), "cats | lasers")
	require.NoError(t, err)
	assert.Equal(t, "LaserCat", meta.Name)

	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "cats | lasers")
}

func TestTextClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewTextClient(TextConfig{BaseURL: srv.URL})
	_, err := client.GenerateCoinMeta(context.Background(), "brief")
	require.Error(t, err)
}
