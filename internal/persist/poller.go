package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbaille/canvas/internal/domain"
)

// Poller fetches the owner's entries on an interval so collaborators'
// changes reach this session.
type Poller struct {
	Backend  Backend
	Owner    string
	Interval time.Duration
	// Mark, when set, is read before each fetch and handed to Apply so
	// writes that raced the listing can be recognised.
	Mark func() uint64
	// Apply receives every successful listing.
	Apply  func(entries []*domain.Entry, mark uint64)
	Logger *slog.Logger
}

// Poll runs one round
func (p *Poller) Poll(ctx context.Context) error {
	var mark uint64
	if p.Mark != nil {
		mark = p.Mark()
	}
	entries, err := p.Backend.ListEntries(ctx, p.Owner)
	if err != nil {
		return fmt.Errorf("poll entries: %w", err)
	}
	if p.Apply != nil {
		p.Apply(entries, mark)
	}
	return nil
}

// Run polls until ctx is cancelled. Failed rounds are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && p.Logger != nil {
				p.Logger.Warn("poll failed", "owner", p.Owner, "err", err)
			}
		}
	}
}
