package client

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/canvas/internal/api"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/persist"
)

var _ persist.Backend = (*Client)(nil)

func newServer(t *testing.T) (*Client, *persist.MemoryBackend) {
	t.Helper()
	backend := persist.NewMemoryBackend()
	srv := httptest.NewServer(api.New(backend, nil, "", nil).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/"), backend
}

func TestRoundTrip(t *testing.T) {
	c, backend := newServer(t)
	ctx := context.Background()

	e := &domain.Entry{ID: "a", OwnerID: "me", Text: "Hello", Position: domain.Position{X: 1, Y: 2}}
	saved, err := c.CreateOrUpdateEntry(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "Hello", saved.Text)

	child := &domain.Entry{ID: "b", OwnerID: "me", Text: "World"}
	child.SetParent("a")
	_, err = c.CreateOrUpdateEntry(ctx, child)
	require.NoError(t, err)

	list, err := c.ListEntries(ctx, "me")
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, c.DeleteEntry(ctx, "b"))
	assert.Equal(t, 1, backend.Len())
}

func TestBatchUpsertChunks(t *testing.T) {
	c, backend := newServer(t)
	c.ChunkSize = 3

	var es []*domain.Entry
	for i := 0; i < 10; i++ {
		es = append(es, &domain.Entry{ID: fmt.Sprintf("e%02d", i), OwnerID: "me"})
	}
	out, err := c.BatchUpsert(context.Background(), es)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, e := range out {
		assert.Equal(t, es[i].ID, e.ID)
	}
	assert.Equal(t, 4, backend.Calls("BatchUpsert"))
	assert.Equal(t, 10, backend.Len())
}

func TestStatusError(t *testing.T) {
	c, backend := newServer(t)
	backend.FailNext(1)

	_, err := c.ListEntries(context.Background(), "me")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Code)
	assert.Contains(t, se.Message, "backend unavailable")
}

func TestPreviewDisabled(t *testing.T) {
	c, _ := newServer(t)
	_, err := c.Preview(context.Background(), "https://example.com")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Code)
}
