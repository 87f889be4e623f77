package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParent(t *testing.T) {
	e := &Entry{ID: "a"}
	assert.Equal(t, "", e.Parent())

	e.SetParent("p")
	require.NotNil(t, e.ParentID)
	assert.Equal(t, "p", e.Parent())

	e.SetParent("")
	assert.Nil(t, e.ParentID)
}

func TestCloneIsDeep(t *testing.T) {
	e := &Entry{
		ID:    "a",
		Text:  "hello",
		Rich:  &RichContent{Format: "html", Body: "<b>hello</b>"},
		Media: &MediaCard{Kind: MediaResearch, Sources: []string{"https://a.example"}},
		Links: []LinkCard{{URL: "https://b.example", Title: "B"}},
	}
	e.SetParent("p")

	c := e.Clone()
	*c.ParentID = "q"
	c.Rich.Body = "changed"
	c.Media.Sources[0] = "changed"
	c.Links[0].Title = "changed"
	c.Position = c.Position.Add(10, 10)

	assert.Equal(t, "p", e.Parent())
	assert.Equal(t, "<b>hello</b>", e.Rich.Body)
	assert.Equal(t, "https://a.example", e.Media.Sources[0])
	assert.Equal(t, "B", e.Links[0].Title)
	assert.Equal(t, Position{}, e.Position)

	var nilEntry *Entry
	assert.Nil(t, nilEntry.Clone())
}

func TestHasLink(t *testing.T) {
	e := &Entry{Links: []LinkCard{{URL: "https://Example.com/a"}}}
	assert.True(t, e.HasLink("https://example.com/a"))
	assert.False(t, e.HasLink("https://example.com/b"))
	assert.True(t, e.HasPayload())
	assert.False(t, (&Entry{Text: "x"}).HasPayload())
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeText("  Hello World \n"))
	assert.NotEqual(t, NewID(), NewID())
}
