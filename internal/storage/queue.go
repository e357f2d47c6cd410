package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

const settingMaxConcurrent = "max_concurrent_downloads"

func (s *Store) SaveQueuedDownload(ctx context.Context, item *QueuedDownload) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO download_queue (id, title, source_url, type, position, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		position = excluded.position;
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Title, item.SourceURL, item.Type, item.Position, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save queued download: %w", err)
	}
	return nil
}

func (s *Store) RemoveQueuedDownload(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM download_queue WHERE id = ?", id)
	return err
}

func (s *Store) GetQueuedDownloads(ctx context.Context) ([]QueuedDownload, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, source_url, type, position, created_at FROM download_queue ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueuedDownload
	for rows.Next() {
		var item QueuedDownload
		var title, sourceURL sql.NullString
		if err := rows.Scan(&item.ID, &title, &sourceURL, &item.Type, &item.Position, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Title = title.String
		item.SourceURL = sourceURL.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) UpdateQueuedDownloadTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE download_queue SET title = ? WHERE id = ?", title, id)
	return err
}

func (s *Store) AddDownloadHistoryItem(ctx context.Context, item *HistoryItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO download_history (download_id, title, source_url, platform, status, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.DownloadID, item.Title, item.SourceURL, item.Platform, item.Status, item.Error, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add history item: %w", err)
	}
	return nil
}

func (s *Store) GetDownloadHistory(ctx context.Context, limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, download_id, title, source_url, platform, status, error, created_at
	FROM download_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HistoryItem
	for rows.Next() {
		var item HistoryItem
		var dlID, title, sourceURL, platform, errMsg sql.NullString
		if err := rows.Scan(&item.ID, &dlID, &title, &sourceURL, &platform, &item.Status, &errMsg, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.DownloadID = dlID.String
		item.Title = title.String
		item.SourceURL = sourceURL.String
		item.Platform = platform.String
		item.Error = errMsg.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) GetMaxConcurrentDownloads(ctx context.Context) (int, error) {
	value, err := s.GetSetting(ctx, settingMaxConcurrent)
	if err != nil || value == "" {
		return 0, err
	}
	return strconv.Atoi(value)
}

func (s *Store) SaveMaxConcurrentDownloads(ctx context.Context, n int) error {
	return s.SaveSetting(ctx, settingMaxConcurrent, strconv.Itoa(n))
}
