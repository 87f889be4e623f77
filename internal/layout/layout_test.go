package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/canvas/internal/geom"
)

func crowded() []Item {
	return []Item{
		{ID: "a", Box: geom.Rect{X: 0, Y: 0, W: 120, H: 40}, Group: -1},
		{ID: "b", Box: geom.Rect{X: 10, Y: 5, W: 80, H: 30}, Group: -1},
		{ID: "c", Box: geom.Rect{X: 20, Y: 10, W: 200, H: 60}, Group: -1},
		{ID: "d", Box: geom.Rect{X: 5, Y: 15, W: 60, H: 60}, Group: -1},
		{ID: "e", Box: geom.Rect{X: 15, Y: 0, W: 100, H: 22}, Group: -1},
	}
}

func placedBoxes(items []Item, pos map[string]geom.Point) []geom.Rect {
	out := make([]geom.Rect, len(items))
	for i, it := range items {
		p := pos[it.ID]
		out[i] = geom.Rect{X: p.X, Y: p.Y, W: it.Box.W, H: it.Box.H}
	}
	return out
}

func assertSeparated(t *testing.T, boxes []geom.Rect, gap float64) {
	t.Helper()
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			assert.GreaterOrEqual(t, geom.Gap(boxes[i], boxes[j]), gap-1e-6, "boxes %d and %d too close", i, j)
		}
	}
}

func TestPackSeparatesOverlappingItems(t *testing.T) {
	items := crowded()
	opts := DefaultOptions()
	pos := Pack(items, opts)
	require.Len(t, pos, len(items))
	assertSeparated(t, placedBoxes(items, pos), opts.Gap)
}

func TestPackManyItems(t *testing.T) {
	var items []Item
	for i := 0; i < 40; i++ {
		items = append(items, Item{
			ID:    string(rune('A' + i)),
			Box:   geom.Rect{X: float64(i % 3), Y: float64(i % 5), W: 40 + float64(i%7)*10, H: 20 + float64(i%4)*12},
			Group: i % 3,
		})
	}
	opts := DefaultOptions()
	pos := Pack(items, opts)
	assertSeparated(t, placedBoxes(items, pos), opts.Gap)
}

func TestPackDeterministic(t *testing.T) {
	items := crowded()
	opts := DefaultOptions()
	opts.Seed = 42
	assert.Equal(t, Pack(items, opts), Pack(items, opts))
}

func TestPackKeepsCentroid(t *testing.T) {
	items := crowded()
	pos := Pack(items, DefaultOptions())

	before := centroid(items, nil)
	after := centroid(items, placedBoxes(items, pos))
	assert.InDelta(t, before.X, after.X, 1e-6)
	assert.InDelta(t, before.Y, after.Y, 1e-6)
}

func TestPackTrivialInputs(t *testing.T) {
	assert.Empty(t, Pack(nil, DefaultOptions()))

	one := []Item{{ID: "x", Box: geom.Rect{X: 30, Y: 40, W: 10, H: 10}, Group: -1}}
	assert.Equal(t, map[string]geom.Point{"x": {X: 30, Y: 40}}, Pack(one, DefaultOptions()))
}

func TestPackContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PackContext(ctx, crowded(), DefaultOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAlignRespectsMaxMove(t *testing.T) {
	items := []Item{
		{ID: "a", Box: geom.Rect{X: 0, Y: 0, W: 100, H: 30}},
		{ID: "b", Box: geom.Rect{X: 40, Y: 10, W: 100, H: 30}},
		{ID: "c", Box: geom.Rect{X: 90, Y: -8, W: 100, H: 30}},
	}
	opts := DefaultAlignOptions()
	opts.MaxMove = 25
	pos := Align(items, opts)
	for _, it := range items {
		assert.LessOrEqual(t, geom.Dist(it.Box.Min(), pos[it.ID]), opts.MaxMove+1e-9, it.ID)
	}
}

func TestAlignSpreadsAlongAxis(t *testing.T) {
	// Three boxes on a horizontal line, touching each other.
	items := []Item{
		{ID: "a", Box: geom.Rect{X: 0, Y: 0, W: 100, H: 20}},
		{ID: "b", Box: geom.Rect{X: 100, Y: 0, W: 100, H: 20}},
		{ID: "c", Box: geom.Rect{X: 200, Y: 0, W: 100, H: 20}},
	}
	opts := AlignOptions{Radius: 40, MinGap: 10, MaxMove: 100}
	pos := Align(items, opts)

	boxes := placedBoxes(items, pos)
	assertSeparated(t, boxes, opts.MinGap)
	for _, b := range boxes {
		assert.InDelta(t, 0, b.Y, 1e-6)
	}
	assert.InDelta(t, 150.0, (boxes[0].Center().X+boxes[2].Center().X)/2, 1e-6)
}

func TestAlignIgnoresIsolatedItems(t *testing.T) {
	items := []Item{
		{ID: "a", Box: geom.Rect{X: 0, Y: 0, W: 10, H: 10}},
		{ID: "b", Box: geom.Rect{X: 1000, Y: 1000, W: 10, H: 10}},
	}
	pos := Align(items, DefaultAlignOptions())
	assert.Equal(t, geom.Point{}, pos["a"])
	assert.Equal(t, geom.Point{X: 1000, Y: 1000}, pos["b"])
}

func TestNeighbourhoods(t *testing.T) {
	items := []Item{
		{ID: "a", Box: geom.Rect{X: 0, Y: 0, W: 10, H: 10}},
		{ID: "b", Box: geom.Rect{X: 15, Y: 0, W: 10, H: 10}},
		{ID: "c", Box: geom.Rect{X: 500, Y: 0, W: 10, H: 10}},
		{ID: "d", Box: geom.Rect{X: 30, Y: 0, W: 10, H: 10}},
	}
	assert.Equal(t, [][]int{{0, 1, 3}, {2}}, neighbourhoods(items, 10))
}

func TestWorkerDelivers(t *testing.T) {
	w := NewWorker(nil)
	got := make(chan Result, 1)
	gen := w.Submit(context.Background(), crowded(), DefaultOptions(), func(r Result) { got <- r })

	select {
	case r := <-got:
		require.NoError(t, r.Err)
		assert.Equal(t, gen, r.Gen)
		assert.Len(t, r.Positions, 5)
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
	}
}

func TestWorkerDropsSupersededResults(t *testing.T) {
	w := NewWorker(nil)
	var mu sync.Mutex
	var gens []uint64
	deliver := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		gens = append(gens, r.Gen)
	}

	w.Submit(context.Background(), crowded(), DefaultOptions(), deliver)
	last := w.Submit(context.Background(), crowded(), DefaultOptions(), deliver)
	w.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, gens)
	assert.Equal(t, last, gens[len(gens)-1])
	assert.False(t, w.Current(last-1))
}

func TestWorkerCancel(t *testing.T) {
	w := NewWorker(nil)
	gen := w.Submit(context.Background(), crowded(), DefaultOptions(), func(Result) {})
	w.Cancel()
	w.Wait()
	assert.False(t, w.Current(gen))
}

func TestWorkerSkipsCancelledContext(t *testing.T) {
	w := NewWorker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := make(chan Result, 1)
	w.Submit(ctx, crowded(), DefaultOptions(), func(r Result) { got <- r })
	w.Wait()
	assert.Empty(t, got)
}
