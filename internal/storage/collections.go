package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) SaveCollection(ctx context.Context, collection *Collection) error {
	if collection.ID == "" {
		collection.ID = uuid.NewString()
	}
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now()
	}
	ids, err := json.Marshal(collection.VideoIDs)
	if err != nil {
		return fmt.Errorf("failed to encode video ids: %w", err)
	}
	query := `
	INSERT INTO collections (id, name, description, video_ids, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		video_ids = excluded.video_ids;
	`
	if _, err := s.db.ExecContext(ctx, query,
		collection.ID, collection.Name, collection.Description, string(ids), collection.CreatedAt); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

func (s *Store) GetCollectionByID(ctx context.Context, id string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, video_ids, created_at FROM collections WHERE id = ?", id)
	return scanCollection(row)
}

func (s *Store) GetCollectionByName(ctx context.Context, name string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, video_ids, created_at FROM collections WHERE name = ?", name)
	return scanCollection(row)
}

// AtomicUpdateCollection runs a read-modify-write cycle under the store's
// collection lock so concurrent part downloads appending to the same
// collection never lose writes.
func (s *Store) AtomicUpdateCollection(ctx context.Context, id string, update func(*Collection) error) error {
	s.collectionMu.Lock()
	defer s.collectionMu.Unlock()

	collection, err := s.GetCollectionByID(ctx, id)
	if err != nil {
		return err
	}
	if collection == nil {
		return fmt.Errorf("collection not found: %s", id)
	}
	if err := update(collection); err != nil {
		return err
	}
	return s.SaveCollection(ctx, collection)
}

func scanCollection(row *sql.Row) (*Collection, error) {
	var collection Collection
	var desc sql.NullString
	var idsRaw string
	err := row.Scan(&collection.ID, &collection.Name, &desc, &idsRaw, &collection.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	collection.Description = desc.String
	if err := json.Unmarshal([]byte(idsRaw), &collection.VideoIDs); err != nil {
		collection.VideoIDs = nil
	}
	return &collection, nil
}
