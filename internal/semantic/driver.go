// Package semantic is the artifact semantic index (§4.13): an optional,
// best-effort embedding pipeline that lets the coherence-issue detector
// flag near-duplicate artifacts by content similarity instead of
// falling back to exact-name matching alone.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbeddingDriver turns text into vectors. OSS ships Ollama and OpenAI
// drivers, auto-discovered from environment variables exactly as the
// teacher discovers its provider credentials.
type EmbeddingDriver interface {
	Kind() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// OllamaDriver embeds via a local Ollama server's /api/embeddings
// endpoint.
type OllamaDriver struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaDriver creates an Ollama embedding driver. endpoint defaults
// to http://localhost:11434.
func NewOllamaDriver(endpoint, model string) *OllamaDriver {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	dims := 768
	switch model {
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm":
		dims = 384
	}
	return &OllamaDriver{endpoint: endpoint, model: model, dimensions: dims, client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *OllamaDriver) Kind() string    { return "ollama" }
func (d *OllamaDriver) Dimensions() int { return d.dimensions }

func (d *OllamaDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		body, _ := json.Marshal(map[string]string{"model": d.model, "prompt": text})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		var parsed struct {
			Embedding []float64 `json:"embedding"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("ollama embed decode: %w", err)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}

// OpenAIDriver embeds via OpenAI's /v1/embeddings endpoint
// (text-embedding-3-small/large).
type OpenAIDriver struct {
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// NewOpenAIDriver creates an OpenAI embedding driver.
func NewOpenAIDriver(apiKey, model string) *OpenAIDriver {
	dims := 1536
	if model == "text-embedding-3-large" {
		dims = 3072
	}
	return &OpenAIDriver{apiKey: apiKey, model: model, dimensions: dims, client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *OpenAIDriver) Kind() string    { return "openai" }
func (d *OpenAIDriver) Dimensions() int { return d.dimensions }

func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, _ := json.Marshal(map[string]any{"model": d.model, "input": texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai embed: status %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("openai embed decode: %w", err)
	}
	out := make([][]float64, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}
