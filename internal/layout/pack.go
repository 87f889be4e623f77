// Package layout repositions visible entries so none overlap. Pack is the
// full declutter (area-ordered ray search, pairwise push-apart passes, final
// recentering); Align is the gentler per-neighbourhood straightening.
package layout

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/pbaille/canvas/internal/geom"
)

// goldenAngle rotates each entry's ray fan to avoid grid artifacts
const goldenAngle = math.Pi * (3 - 2.2360679774997896) // π(3-√5)

const eps = 1e-6

// Item is one entry to lay out
type Item struct {
	ID  string
	Box geom.Rect
	// Group clusters visually or semantically similar items; -1 for none.
	Group int
}

// Options tunes Pack
type Options struct {
	Gap          float64
	AngleStep    float64 // radians between candidate rays
	Passes       int
	Seed         int64
	CenterWeight float64
	AnchorWeight float64
	GroupWeight  float64
	NoiseWeight  float64
	JitterWeight float64
}

// DefaultOptions returns the stock packing parameters
func DefaultOptions() Options {
	return Options{
		Gap:          20,
		AngleStep:    math.Pi / 12,
		Passes:       8,
		Seed:         1,
		CenterWeight: 1,
		AnchorWeight: 0.35,
		GroupWeight:  0.8,
		NoiseWeight:  40,
		JitterWeight: 4,
	}
}

// Pack computes new top-left positions for items
func Pack(items []Item, opts Options) map[string]geom.Point {
	out, _ := PackContext(context.Background(), items, opts)
	return out
}

// PackContext is Pack with cancellation checks between placement steps
func PackContext(ctx context.Context, items []Item, opts Options) (map[string]geom.Point, error) {
	if opts.AngleStep <= 0 {
		opts.AngleStep = math.Pi / 12
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}
	n := len(items)
	out := make(map[string]geom.Point, n)
	if n == 0 {
		return out, nil
	}

	origin := centroid(items, nil)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		if ia.Box.Area() != ib.Box.Area() {
			return ia.Box.Area() > ib.Box.Area()
		}
		return ia.ID < ib.ID
	})

	rng := rand.New(rand.NewSource(opts.Seed))
	boxes := make([]geom.Rect, n)
	var placed []int

	for k, idx := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it := items[idx]
		if k == 0 {
			boxes[idx] = it.Box
			placed = append(placed, idx)
			continue
		}
		box, ok := bestCandidate(it, k, placed, boxes, items, opts, rng)
		if !ok {
			box = spiralFallback(it, k, placed, boxes, opts)
		}
		boxes[idx] = box
		placed = append(placed, idx)
	}

	for pass := 0; pass < opts.Passes; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !resolvePass(boxes, opts.Gap) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settle(order, boxes, opts.Gap)

	shift := origin.Sub(centroid(items, boxes))
	for i, it := range items {
		b := boxes[i].Translate(shift.X, shift.Y)
		out[it.ID] = b.Min()
	}
	return out, nil
}

// bestCandidate searches rays around every placed item and keeps the valid
// candidate with the lowest score.
func bestCandidate(it Item, k int, placed []int, boxes []geom.Rect, items []Item, opts Options, rng *rand.Rand) (geom.Rect, bool) {
	cluster := centerOf(placed, boxes)
	group, hasGroup := groupCenter(it.Group, placed, boxes, items)
	anchor := it.Box.Center()
	w, h := it.Box.W, it.Box.H

	rot := float64(k) * goldenAngle
	steps := int(math.Ceil(2 * math.Pi / opts.AngleStep))

	best := math.Inf(1)
	var bestBox geom.Rect
	found := false
	for _, j := range placed {
		nb := boxes[j]
		nc := nb.Center()
		for s := 0; s < steps; s++ {
			a := rot + float64(s)*opts.AngleStep
			d := geom.Point{X: math.Cos(a), Y: math.Sin(a)}
			dist := support(nb, d) + support(it.Box, d) + opts.Gap + eps
			c := nc.Add(d.Scale(dist))
			cand := geom.Rect{X: c.X - w/2, Y: c.Y - h/2, W: w, H: h}
			if !isClear(cand, placed, boxes, opts.Gap) {
				continue
			}
			score := opts.CenterWeight*geom.Dist(c, cluster) +
				opts.AnchorWeight*geom.Dist(c, anchor) +
				opts.NoiseWeight*noise2(c.X/97, c.Y/97) +
				opts.JitterWeight*rng.Float64()
			if hasGroup {
				score += opts.GroupWeight * geom.Dist(c, group)
			}
			if score < best {
				best = score
				bestBox = cand
				found = true
			}
		}
	}
	return bestBox, found
}

// spiralFallback places the item on a golden-angle spiral whose radius grows
// with the placement index. It may overlap; the resolution passes and the
// final settle fix that.
func spiralFallback(it Item, k int, placed []int, boxes []geom.Rect, opts Options) geom.Rect {
	c := centerOf(placed, boxes)
	step := math.Max(it.Box.W, it.Box.H)/2 + opts.Gap
	r := float64(k) * step
	a := float64(k) * goldenAngle
	cx := c.X + r*math.Cos(a)
	cy := c.Y + r*math.Sin(a)
	return geom.Rect{X: cx - it.Box.W/2, Y: cy - it.Box.H/2, W: it.Box.W, H: it.Box.H}
}

// resolvePass pushes overlapping pairs apart along their axis of least
// overlap, larger boxes moving less. It reports whether anything moved.
func resolvePass(boxes []geom.Rect, gap float64) bool {
	moved := false
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			a, b := boxes[i], boxes[j]
			if geom.Gap(a, b) >= gap-eps {
				continue
			}
			ca, cb := a.Center(), b.Center()
			px := (a.W+b.W)/2 + gap - math.Abs(cb.X-ca.X)
			py := (a.H+b.H)/2 + gap - math.Abs(cb.Y-ca.Y)

			wa, wb := pushWeights(a.Area(), b.Area())
			if px <= py {
				dir := sign(cb.X-ca.X, i, j)
				boxes[i] = a.Translate(-dir*(px+eps)*wa, 0)
				boxes[j] = b.Translate(dir*(px+eps)*wb, 0)
			} else {
				dir := sign(cb.Y-ca.Y, i, j)
				boxes[i] = a.Translate(0, -dir*(py+eps)*wa)
				boxes[j] = b.Translate(0, dir*(py+eps)*wb)
			}
			moved = true
		}
	}
	return moved
}

// settle guarantees the non-overlap invariant: items are fixed in placement
// order, and any item still too close to a fixed one walks outward on a
// spiral from its current center until it is clear.
func settle(order []int, boxes []geom.Rect, gap float64) {
	var fixed []int
	for _, idx := range order {
		b := boxes[idx]
		if !isClear(b, fixed, boxes, gap) {
			step := math.Max(math.Min(b.W, b.H)/2, 4) + gap/2
			for i := 1; ; i++ {
				a := float64(i) * goldenAngle
				r := step * math.Sqrt(float64(i))
				cand := b.Translate(r*math.Cos(a), r*math.Sin(a))
				if isClear(cand, fixed, boxes, gap) {
					b = cand
					break
				}
			}
			boxes[idx] = b
		}
		fixed = append(fixed, idx)
	}
}

func isClear(cand geom.Rect, placed []int, boxes []geom.Rect, gap float64) bool {
	for _, j := range placed {
		if geom.Gap(cand, boxes[j]) < gap-eps {
			return false
		}
	}
	return true
}

// support is the distance from a rectangle's center to its boundary along unit vector d
func support(r geom.Rect, d geom.Point) float64 {
	return math.Abs(d.X)*r.W/2 + math.Abs(d.Y)*r.H/2
}

func pushWeights(areaA, areaB float64) (float64, float64) {
	total := areaA + areaB
	if total <= 0 {
		return 0.5, 0.5
	}
	return areaB / total, areaA / total
}

func sign(v float64, i, j int) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	case i < j:
		return 1
	default:
		return -1
	}
}

func centroid(items []Item, boxes []geom.Rect) geom.Point {
	var sum geom.Point
	for i, it := range items {
		b := it.Box
		if boxes != nil {
			b = boxes[i]
		}
		sum = sum.Add(b.Center())
	}
	return sum.Scale(1 / float64(len(items)))
}

func centerOf(idx []int, boxes []geom.Rect) geom.Point {
	var sum geom.Point
	for _, i := range idx {
		sum = sum.Add(boxes[i].Center())
	}
	return sum.Scale(1 / float64(len(idx)))
}

func groupCenter(group int, placed []int, boxes []geom.Rect, items []Item) (geom.Point, bool) {
	if group < 0 {
		return geom.Point{}, false
	}
	var sum geom.Point
	n := 0
	for _, i := range placed {
		if items[i].Group == group {
			sum = sum.Add(boxes[i].Center())
			n++
		}
	}
	if n == 0 {
		return geom.Point{}, false
	}
	return sum.Scale(1 / float64(n)), true
}

// noise2 is deterministic value noise in [0,1)
func noise2(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := smooth(x-x0), smooth(y-y0)
	ix, iy := int64(x0), int64(y0)
	a := hash2(ix, iy)
	b := hash2(ix+1, iy)
	c := hash2(ix, iy+1)
	d := hash2(ix+1, iy+1)
	top := a + (b-a)*fx
	bottom := c + (d-c)*fx
	return top + (bottom-top)*fy
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

func hash2(x, y int64) float64 {
	h := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(y)*0xC2B2AE3D27D4EB4F
	h ^= h >> 33
	h *= 0xFF51AFD7ED558CCD
	h ^= h >> 33
	h *= 0xC4CEB9FE1A85EC53
	h ^= h >> 33
	return float64(h>>11) / float64(1<<53)
}
