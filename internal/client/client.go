// Package client is the HTTP CRUD backend that talks to the canvas API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pbaille/canvas/internal/domain"
)

// DefaultChunkSize bounds how many entries go into one batch request
const DefaultChunkSize = 200

// Client calls the canvas REST API
type Client struct {
	base      string
	http      *http.Client
	ChunkSize int
	// Parallel bounds concurrent chunk requests.
	Parallel int
}

// New creates a client for the API at baseURL
func New(baseURL string) *Client {
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		ChunkSize: DefaultChunkSize,
		Parallel:  4,
	}
}

// StatusError is a non-2xx API response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Code, e.Message)
}

// CreateOrUpdateEntry upserts e
func (c *Client) CreateOrUpdateEntry(ctx context.Context, e *domain.Entry) (*domain.Entry, error) {
	var out domain.Entry
	if err := c.do(ctx, http.MethodPut, "/entries/"+url.PathEscape(e.ID), e, &out); err != nil {
		return nil, fmt.Errorf("upsert entry %s: %w", e.ID, err)
	}
	return &out, nil
}

// DeleteEntry removes an entry
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	return nil
}

type batchBody struct {
	Entries []*domain.Entry `json:"entries"`
}

// BatchUpsert upserts es, split into chunks sent concurrently. Result order
// follows the input.
func (c *Client) BatchUpsert(ctx context.Context, es []*domain.Entry) ([]*domain.Entry, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]*domain.Entry
	for start := 0; start < len(es); start += size {
		end := min(start+size, len(es))
		chunks = append(chunks, es[start:end])
	}

	results := make([][]*domain.Entry, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	if c.Parallel > 0 {
		g.SetLimit(c.Parallel)
	}
	for i, chunk := range chunks {
		g.Go(func() error {
			var out batchBody
			if err := c.do(ctx, http.MethodPost, "/entries/batch", batchBody{Entries: chunk}, &out); err != nil {
				return err
			}
			results[i] = out.Entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch upsert: %w", err)
	}

	out := make([]*domain.Entry, 0, len(es))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// ListEntries returns the owner's entries
func (c *Client) ListEntries(ctx context.Context, owner string) ([]*domain.Entry, error) {
	var out batchBody
	if err := c.do(ctx, http.MethodGet, "/owners/"+url.PathEscape(owner)+"/entries", nil, &out); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out.Entries, nil
}

// Preview asks the server for a link preview
func (c *Client) Preview(ctx context.Context, rawURL string) (*domain.LinkCard, error) {
	var card domain.LinkCard
	if err := c.do(ctx, http.MethodGet, "/preview?url="+url.QueryEscape(rawURL), nil, &card); err != nil {
		return nil, fmt.Errorf("preview %s: %w", rawURL, err)
	}
	return &card, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
