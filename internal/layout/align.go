package layout

import (
	"math"
	"sort"

	"github.com/pbaille/canvas/internal/geom"
)

// AlignOptions tunes Align
type AlignOptions struct {
	// Radius links two items into the same neighbourhood when their boxes are
	// at most this far apart.
	Radius float64
	// MinGap is enforced between consecutive items along the dominant axis.
	MinGap float64
	// MaxMove caps how far any item may travel from its original position.
	MaxMove float64
	// Straighten pulls items toward the axis line, 0 (off) to 1 (snap).
	Straighten float64
}

// DefaultAlignOptions returns the stock gentle-align parameters
func DefaultAlignOptions() AlignOptions {
	return AlignOptions{Radius: 60, MinGap: 16, MaxMove: 60, Straighten: 0.5}
}

// Align straightens small local clusters. For each neighbourhood it finds the
// dominant axis of the item centers (principal component), spreads items
// along it so consecutive ones keep MinGap, and eases them toward the axis.
// No item moves more than MaxMove. Items in no neighbourhood stay put.
func Align(items []Item, opts AlignOptions) map[string]geom.Point {
	out := make(map[string]geom.Point, len(items))
	for _, it := range items {
		out[it.ID] = it.Box.Min()
	}
	for _, comp := range neighbourhoods(items, opts.Radius) {
		if len(comp) < 2 {
			continue
		}
		for idx, delta := range alignComponent(items, comp, opts) {
			out[items[idx].ID] = items[idx].Box.Min().Add(delta)
		}
	}
	return out
}

func alignComponent(items []Item, comp []int, opts AlignOptions) map[int]geom.Point {
	var mean geom.Point
	for _, i := range comp {
		mean = mean.Add(items[i].Box.Center())
	}
	mean = mean.Scale(1 / float64(len(comp)))

	var sxx, sxy, syy float64
	for _, i := range comp {
		d := items[i].Box.Center().Sub(mean)
		sxx += d.X * d.X
		sxy += d.X * d.Y
		syy += d.Y * d.Y
	}
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	u := geom.Point{X: math.Cos(theta), Y: math.Sin(theta)}
	v := geom.Point{X: -u.Y, Y: u.X}

	type proj struct {
		idx  int
		t    float64
		perp float64
		half float64
	}
	ps := make([]proj, 0, len(comp))
	for _, i := range comp {
		d := items[i].Box.Center().Sub(mean)
		ps = append(ps, proj{
			idx:  i,
			t:    d.X*u.X + d.Y*u.Y,
			perp: d.X*v.X + d.Y*v.Y,
			half: support(items[i].Box, u),
		})
	}
	sort.SliceStable(ps, func(a, b int) bool { return ps[a].t < ps[b].t })

	newT := make([]float64, len(ps))
	var before, after float64
	for k, p := range ps {
		newT[k] = p.t
		if k > 0 {
			floor := newT[k-1] + ps[k-1].half + p.half + opts.MinGap
			if newT[k] < floor {
				newT[k] = floor
			}
		}
		before += p.t
		after += newT[k]
	}
	shift := (before - after) / float64(len(ps))

	deltas := make(map[int]geom.Point, len(ps))
	for k, p := range ps {
		along := newT[k] + shift - p.t
		across := -p.perp * opts.Straighten
		d := u.Scale(along).Add(v.Scale(across))
		if l := d.Len(); opts.MaxMove >= 0 && l > opts.MaxMove {
			d = d.Scale(opts.MaxMove / l)
		}
		deltas[p.idx] = d
	}
	return deltas
}

// neighbourhoods groups items whose boxes lie within radius of each other
func neighbourhoods(items []Item, radius float64) [][]int {
	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if geom.Gap(items[i].Box, items[j].Box) <= radius {
				if ri, rj := find(i), find(j); ri != rj {
					parent[rj] = ri
				}
			}
		}
	}
	groups := make(map[int][]int)
	var roots []int
	for i := range items {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}
