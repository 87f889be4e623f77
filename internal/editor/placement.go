package editor

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/geom"
)

// spiralSteps bounds the deterministic search after random candidates fail
const spiralSteps = 400

// PlaceCursor picks where the idle cursor goes after a commit, delete or
// escape. In order: a click made since editing began, the bottom-right corner
// of former, the pre-edit position, a free spot next to a visible entry, and
// finally the viewport center.
func (e *Editor) PlaceCursor(former *geom.Rect) geom.Point {
	now := e.opts.Clock.Now()
	if e.hasClick && e.lastClickAt.After(e.editStart) && now.Sub(e.lastClickAt) <= e.opts.RecentClick {
		return e.lastClick
	}
	if former != nil {
		return former.Max()
	}
	if e.preEdit != nil {
		return *e.preEdit
	}
	if p, ok := e.freeSpot(); ok {
		return p
	}
	return e.viewportCenter()
}

// freeSpot looks for a caret position adjacent to a visible entry whose glyph
// box, grown by the clearance margin, touches no visible entry.
func (e *Editor) freeSpot() (geom.Point, bool) {
	if e.opts.Projection == nil {
		return geom.Point{}, false
	}
	boxes := e.opts.Projection.VisibleBoxes()
	if len(boxes) == 0 {
		return geom.Point{}, false
	}
	list := make([]geom.Rect, 0, len(boxes))
	for _, b := range boxes {
		list = append(list, b)
	}
	// Map iteration order is random; sort so the seeded search is reproducible.
	sortRects(list)

	caret := e.opts.Projection.Measure.CaretBox(geom.Point{})
	m := e.opts.Clearance
	for i := 0; i < e.opts.Candidates; i++ {
		b := list[e.opts.Rand.Intn(len(list))]
		var p geom.Point
		switch e.opts.Rand.Intn(4) {
		case 0:
			p = geom.Point{X: b.Right() + 2*m, Y: b.Y}
		case 1:
			p = geom.Point{X: b.X, Y: b.Bottom() + 2*m}
		case 2:
			p = geom.Point{X: b.X - caret.W - 2*m, Y: b.Y}
		default:
			p = geom.Point{X: b.X, Y: b.Y - caret.H - 2*m}
		}
		if e.caretFits(p, list) {
			return p, true
		}
	}

	origin, _ := geom.Bounds(list)
	c := origin.Center()
	step := caret.H + 2*m
	for i := 0; i < spiralSteps; i++ {
		a := float64(i) * 0.5
		r := step * a / math.Pi
		p := geom.Point{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
		if e.caretFits(p, list) {
			return p, true
		}
	}
	return geom.Point{}, false
}

func (e *Editor) caretFits(p geom.Point, boxes []geom.Rect) bool {
	g := e.opts.Projection.Measure.CaretBox(p).Expand(e.opts.Clearance)
	for _, b := range boxes {
		if g.Intersects(b) {
			return false
		}
	}
	return true
}

func (e *Editor) viewportCenter() geom.Point {
	if e.opts.Viewport == nil {
		return geom.Point{}
	}
	return e.opts.Viewport().Center()
}

func sortRects(rs []geom.Rect) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Area() < b.Area()
	})
}

// PlainText returns the visible text of rich content with markup removed
func PlainText(r *domain.RichContent) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(r.Body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
			sb.WriteByte(' ')
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				sb.WriteByte(' ')
			}
		}
	}
}
