package view

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/geom"
)

// Measurer estimates the world-space size of rendered entries
type Measurer struct {
	CharWidth   float64
	LineHeight  float64
	Padding     float64
	MaxColumns  int
	MediaWidth  float64
	FileSize    geom.Point
	LinkHeight  float64
	MinWidth    float64
	CaretColumn float64
}

// DefaultMeasurer matches the stock canvas font metrics
func DefaultMeasurer() Measurer {
	return Measurer{
		CharWidth:   9,
		LineHeight:  22,
		Padding:     4,
		MaxColumns:  48,
		MediaWidth:  240,
		FileSize:    geom.Point{X: 220, Y: 56},
		LinkHeight:  84,
		MinWidth:    12,
		CaretColumn: 2,
	}
}

// Size returns the width and height an entry occupies
func (m Measurer) Size(e *domain.Entry) geom.Point {
	if e.Width > 0 && e.Height > 0 {
		return geom.Point{X: e.Width, Y: e.Height}
	}

	var w, h float64
	if e.Media != nil {
		mw, mh := m.mediaSize(e.Media)
		w, h = mw, mh
	}
	if strings.TrimSpace(e.Text) != "" {
		tw, th := m.TextSize(e.Text)
		if tw > w {
			w = tw
		}
		h += th
	}
	if n := len(e.Links); n > 0 {
		if w < m.MediaWidth {
			w = m.MediaWidth
		}
		h += float64(n) * m.LinkHeight
	}
	if w < m.MinWidth {
		w = m.MinWidth
	}
	if h < m.LineHeight {
		h = m.LineHeight
	}
	return geom.Point{X: w, Y: h}
}

// TextSize measures plain text, wrapping lines at MaxColumns cells
func (m Measurer) TextSize(text string) (float64, float64) {
	lines := 0
	widest := 0
	for _, line := range strings.Split(text, "\n") {
		cells := runewidth.StringWidth(line)
		if m.MaxColumns > 0 && cells > m.MaxColumns {
			lines += (cells + m.MaxColumns - 1) / m.MaxColumns
			cells = m.MaxColumns
		} else {
			lines++
		}
		if cells > widest {
			widest = cells
		}
	}
	w := float64(widest)*m.CharWidth + 2*m.Padding
	h := float64(lines)*m.LineHeight + 2*m.Padding
	return w, h
}

// Box returns the world bounding box of an entry
func (m Measurer) Box(e *domain.Entry) geom.Rect {
	s := m.Size(e)
	return geom.Rect{X: e.Position.X, Y: e.Position.Y, W: s.X, H: s.Y}
}

// CaretBox is the estimated glyph box of the idle text cursor at p
func (m Measurer) CaretBox(p geom.Point) geom.Rect {
	return geom.Rect{X: p.X, Y: p.Y, W: m.CaretColumn * m.CharWidth, H: m.LineHeight}
}

func (m Measurer) mediaSize(c *domain.MediaCard) (float64, float64) {
	switch c.Kind {
	case domain.MediaImage, domain.MediaVideo:
		if c.Width > 0 && c.Height > 0 {
			return m.MediaWidth, m.MediaWidth * float64(c.Height) / float64(c.Width)
		}
		return m.MediaWidth, m.MediaWidth * 0.75
	case domain.MediaSong, domain.MediaMovie:
		return m.MediaWidth, m.MediaWidth * 0.5
	case domain.MediaResearch:
		return m.MediaWidth * 1.5, m.MediaWidth
	default:
		return m.FileSize.X, m.FileSize.Y
	}
}
