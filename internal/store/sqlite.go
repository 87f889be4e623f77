// Package store is the SQLite CRUD backend. Every write is an upsert keyed by
// entry id, so retried calls are harmless.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/canvas/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when an entry does not exist
var ErrNotFound = errors.New("entry not found")

const entryColumns = "id, owner_id, parent_id, x, y, width, height, text, rich, media, links, created_at, updated_at"

const upsertEntry = `
INSERT INTO entries (` + entryColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    owner_id = excluded.owner_id,
    parent_id = excluded.parent_id,
    x = excluded.x,
    y = excluded.y,
    width = excluded.width,
    height = excluded.height,
    text = excluded.text,
    rich = excluded.rich,
    media = excluded.media,
    links = excluded.links,
    updated_at = excluded.updated_at`

// Store handles database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrUpdateEntry upserts e and returns the stored record
func (s *Store) CreateOrUpdateEntry(ctx context.Context, e *domain.Entry) (*domain.Entry, error) {
	out := s.stamp(e)
	args, err := entryArgs(out)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, upsertEntry, args...); err != nil {
		return nil, fmt.Errorf("upsert entry: %w", err)
	}
	return out, nil
}

// BatchUpsert upserts every entry in one transaction
func (s *Store) BatchUpsert(ctx context.Context, es []*domain.Entry) ([]*domain.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertEntry)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	out := make([]*domain.Entry, 0, len(es))
	for _, e := range es {
		rec := s.stamp(e)
		args, err := entryArgs(rec)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("upsert entry %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return out, nil
}

// DeleteEntry removes an entry; deleting a missing entry is not an error
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID
func (s *Store) GetEntry(ctx context.Context, id string) (*domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns the owner's entries oldest first; "" lists every owner
func (s *Store) ListEntries(ctx context.Context, owner string) ([]*domain.Entry, error) {
	query := "SELECT " + entryColumns + " FROM entries"
	var args []any
	if owner != "" {
		query += " WHERE owner_id = ?"
		args = append(args, owner)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// SaveEmbedding caches the embedding of an entry's text
func (s *Store) SaveEmbedding(ctx context.Context, entryID, text string, vector []float32) error {
	blob, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO embeddings (entry_id, text, vector, created_at) VALUES (?, ?, ?, ?)",
		entryID, text, string(blob), s.now(),
	)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// Embeddings returns cached vectors for ids whose text has not changed since
// they were computed. texts maps entry id to current text.
func (s *Store) Embeddings(ctx context.Context, texts map[string]string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for id, text := range texts {
		var cached, blob string
		err := s.db.QueryRowContext(ctx,
			"SELECT text, vector FROM embeddings WHERE entry_id = ?", id,
		).Scan(&cached, &blob)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get embedding: %w", err)
		}
		if cached != text {
			continue
		}
		var v []float32
		if err := json.Unmarshal([]byte(blob), &v); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

func (s *Store) stamp(e *domain.Entry) *domain.Entry {
	out := e.Clone()
	now := s.now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = now
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.Entry, error) {
	var (
		e                  domain.Entry
		parent             sql.NullString
		rich, media, links sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.OwnerID, &parent, &e.Position.X, &e.Position.Y, &e.Width, &e.Height,
		&e.Text, &rich, &media, &links, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		e.SetParent(parent.String)
	}
	if err := decodeJSON(rich, &e.Rich); err != nil {
		return nil, fmt.Errorf("decode rich content: %w", err)
	}
	if err := decodeJSON(media, &e.Media); err != nil {
		return nil, fmt.Errorf("decode media card: %w", err)
	}
	if err := decodeJSON(links, &e.Links); err != nil {
		return nil, fmt.Errorf("decode link cards: %w", err)
	}
	return &e, nil
}

func entryArgs(e *domain.Entry) ([]any, error) {
	rich, err := encodeJSON(e.Rich, e.Rich == nil)
	if err != nil {
		return nil, fmt.Errorf("encode rich content: %w", err)
	}
	media, err := encodeJSON(e.Media, e.Media == nil)
	if err != nil {
		return nil, fmt.Errorf("encode media card: %w", err)
	}
	links, err := encodeJSON(e.Links, len(e.Links) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode link cards: %w", err)
	}
	return []any{
		e.ID, e.OwnerID, e.ParentID, e.Position.X, e.Position.Y, e.Width, e.Height,
		e.Text, rich, media, links, e.CreatedAt, e.UpdatedAt,
	}, nil
}

func encodeJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
