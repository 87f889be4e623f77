package canvas

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/undo"
	"github.com/pbaille/canvas/internal/upload"
)

// AddFile uploads data, compressing oversized images first, and places the
// resulting image or file card at the world point pos in the current view.
// It returns the new entry id.
func (s *Session) AddFile(ctx context.Context, name, mime string, data []byte, pos geom.Point) (string, error) {
	if s.readOnly() {
		return "", ErrReadOnly
	}
	if s.opts.Uploader == nil {
		return "", errors.New("add file: no uploader configured")
	}
	lim := upload.Limits{MaxBytes: s.cfg.Upload.MaxBytes, MaxDimension: s.cfg.Upload.MaxDimension}
	card, err := upload.Prepare(ctx, s.opts.Uploader, name, mime, data, lim)
	if err != nil {
		s.log.Warn("upload failed", "name", name, "err", err)
		return "", fmt.Errorf("add file: %w", err)
	}

	var id string
	s.do(func() {
		now := s.clock.Now()
		e := &domain.Entry{
			ID:        domain.NewID(),
			OwnerID:   s.owner,
			Position:  domain.Position{X: pos.X, Y: pos.Y},
			Media:     card,
			CreatedAt: now,
			UpdatedAt: now,
		}
		e.SetParent(s.nav.Current())
		s.store.Set(e)
		h := s.proj.Sync(e)
		h.Visible = true
		s.persist.Save(e)
		s.undo.Push(undo.Record{Action: undo.Create, Timestamp: now, Entries: []*domain.Entry{e.Clone()}})
		id = e.ID
		s.log.Info("file added", "entry_id", id, "kind", card.Kind, "size", card.SizeLabel)
	})
	return id, nil
}

// ReportBrokenAsset drops the media URL of an entry whose asset failed to
// load, so the stale reference is not fetched again
func (s *Session) ReportBrokenAsset(id string) error {
	var err error
	s.do(func() {
		if s.readOnly() {
			err = ErrReadOnly
			return
		}
		cleared := false
		e, uerr := s.store.Update(id, func(e *domain.Entry) {
			if e.Media == nil || (e.Media.URL == "" && e.Media.Thumbnail == "") {
				return
			}
			e.Media.URL = ""
			e.Media.Thumbnail = ""
			e.UpdatedAt = s.clock.Now()
			cleared = true
		})
		if uerr != nil {
			err = fmt.Errorf("report broken asset: %w", uerr)
			return
		}
		if !cleared {
			return
		}
		s.proj.Sync(e)
		s.persist.Save(e)
		s.log.Info("cleared broken asset", "entry_id", id)
	})
	return err
}
