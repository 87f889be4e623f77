package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "note", label(&domain.Entry{Text: "note"}))
	assert.Equal(t, "[file] a.pdf (1.5 kB)", label(&domain.Entry{Media: &domain.MediaCard{Kind: domain.MediaFile, Name: "a.pdf", SizeLabel: "1.5 kB"}}))
	assert.Equal(t, "Dune", label(&domain.Entry{Media: &domain.MediaCard{Kind: domain.MediaMovie, Title: "Dune"}}))
	assert.Equal(t, "https://x.example", label(&domain.Entry{Links: []domain.LinkCard{{URL: "https://x.example"}}}))
}

func TestResolveID(t *testing.T) {
	idx := entrystore.New()
	idx.Replace([]*domain.Entry{
		{ID: "abc123"},
		{ID: "abd456"},
	})

	id, err := resolveID(idx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = resolveID(idx, "abd456")
	require.NoError(t, err)
	assert.Equal(t, "abd456", id)

	id, err = resolveID(idx, "")
	require.NoError(t, err)
	assert.Equal(t, "", id)

	_, err = resolveID(idx, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveID(idx, "zz")
	assert.ErrorContains(t, err, "not found")
}
