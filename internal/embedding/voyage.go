// Package embedding computes text embeddings used to keep similar entries
// together when the canvas is decluttered.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

const voyageAPI = "https://api.voyageai.com/v1/embeddings"

// DefaultBatchSize is the most inputs sent in one request
const DefaultBatchSize = 128

// Service handles embedding generation via Voyage AI
type Service struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	// BatchSize splits large inputs into several requests.
	BatchSize int
}

// APIError is a non-200 response from the embeddings endpoint
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voyage api error (status %d): %s", e.Status, e.Body)
}

// New creates a new embedding Service
func New() (*Service, error) {
	apiKey := os.Getenv("VOYAGE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("VOYAGE_API_KEY environment variable not set")
	}
	return NewWithEndpoint(apiKey, voyageAPI), nil
}

// NewWithEndpoint creates a Service against a specific endpoint
func NewWithEndpoint(apiKey, endpoint string) *Service {
	return &Service{
		apiKey:    apiKey,
		model:     "voyage-3-lite",
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 30 * time.Second},
		BatchSize: DefaultBatchSize,
	}
}

// Embed generates an embedding vector for a single text
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vectors, err := s.request(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (s *Service) request(ctx context.Context, texts []string) ([][]float64, error) {
	jsonBody, err := json.Marshal(embeddingRequest{
		Input:     texts,
		Model:     s.model,
		InputType: "document",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	// Results carry their input index and may arrive in any order.
	vectors := make([][]float64, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// CosineSimilarity computes similarity between two vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Cluster greedily groups vectors: each vector joins the first group whose
// seed is at least threshold similar, otherwise it seeds a new group.
// The result maps input index to group number.
func Cluster(vectors [][]float64, threshold float64) []int {
	groups := make([]int, len(vectors))
	var seeds []int
	for i, v := range vectors {
		groups[i] = -1
		for g, s := range seeds {
			if CosineSimilarity(v, vectors[s]) >= threshold {
				groups[i] = g
				break
			}
		}
		if groups[i] < 0 {
			groups[i] = len(seeds)
			seeds = append(seeds, i)
		}
	}
	return groups
}

type embeddingRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}
