package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Position is a point in world coordinates (top-left anchor of an entry)
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the position translated by (dx, dy)
func (p Position) Add(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Entry is a positioned content unit on the canvas
type Entry struct {
	ID       string       `json:"id"`
	OwnerID  string       `json:"owner_id"`
	ParentID *string      `json:"parent_id"`
	Position Position     `json:"position"`
	Text     string       `json:"text"`
	Rich     *RichContent `json:"rich,omitempty"`
	Media    *MediaCard   `json:"media,omitempty"`
	Links    []LinkCard   `json:"links,omitempty"`

	// Width and Height are explicit sizes set by resizing media entries.
	// Zero means the size is measured from content.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RichContent is formatted markup that takes precedence over Text when rendering
type RichContent struct {
	Format string `json:"format"` // "html", "table" or "calendar"
	Body   string `json:"body"`
}

// Media card kinds
const (
	MediaImage    = "image"
	MediaFile     = "file"
	MediaVideo    = "video"
	MediaSong     = "song"
	MediaMovie    = "movie"
	MediaResearch = "research"
)

// MediaCard is the discriminated media payload of an entry
type MediaCard struct {
	Kind      string `json:"kind"`
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
	SizeLabel string `json:"size_label,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Title     string `json:"title,omitempty"`
	Subtitle  string `json:"subtitle,omitempty"`
	Year      string `json:"year,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	// Sources holds citation URLs for research results.
	Sources []string `json:"sources,omitempty"`
}

// LinkCard is a fetched link preview keyed by URL
type LinkCard struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Viewer is what the auth collaborator tells us about the current session
type Viewer struct {
	UserID   string `json:"user_id"`
	OwnerID  string `json:"owner_id"`
	ReadOnly bool   `json:"read_only"`
}

// NewID returns a fresh entry identifier
func NewID() string {
	return uuid.New().String()
}

// Parent returns the parent id, or "" for root-level entries
func (e *Entry) Parent() string {
	if e.ParentID == nil {
		return ""
	}
	return *e.ParentID
}

// SetParent sets the parent id; "" moves the entry to the root level
func (e *Entry) SetParent(parent string) {
	if parent == "" {
		e.ParentID = nil
		return
	}
	p := parent
	e.ParentID = &p
}

// HasPayload reports whether the entry carries media or link cards
func (e *Entry) HasPayload() bool {
	return e.Media != nil || len(e.Links) > 0
}

// HasLink reports whether a link card already exists for url
func (e *Entry) HasLink(url string) bool {
	for _, l := range e.Links {
		if strings.EqualFold(l.URL, url) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.ParentID != nil {
		p := *e.ParentID
		c.ParentID = &p
	}
	if e.Rich != nil {
		r := *e.Rich
		c.Rich = &r
	}
	if e.Media != nil {
		m := *e.Media
		m.Sources = append([]string(nil), e.Media.Sources...)
		c.Media = &m
	}
	if e.Links != nil {
		c.Links = append([]LinkCard(nil), e.Links...)
	}
	return &c
}

// NormalizeText is the form used for duplicate detection
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
