package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const subscriptionColumns = `id, author, author_url, platform, interval, last_video_link,
	last_check, download_count, created_at`

func (s *Store) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO subscriptions (` + subscriptionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		author = excluded.author,
		interval = excluded.interval,
		last_video_link = excluded.last_video_link,
		last_check = excluded.last_check,
		download_count = excluded.download_count;
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.Author, sub.AuthorURL, sub.Platform, sub.Interval,
		sub.LastVideoLink, sub.LastCheck, sub.DownloadCount, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionByID(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	return scanSubscription(row)
}

func (s *Store) GetSubscriptionByAuthorURL(ctx context.Context, authorURL string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE author_url = ?", authorURL)
	return scanSubscription(row)
}

func (s *Store) GetSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		var lastLink sql.NullString
		var lastCheck sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.Author, &sub.AuthorURL, &sub.Platform, &sub.Interval,
			&lastLink, &lastCheck, &sub.DownloadCount, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.LastVideoLink = lastLink.String
		sub.LastCheck = lastCheck.Time
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = ?", id)
	return err
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var sub Subscription
	var lastLink sql.NullString
	var lastCheck sql.NullTime
	err := row.Scan(&sub.ID, &sub.Author, &sub.AuthorURL, &sub.Platform, &sub.Interval,
		&lastLink, &lastCheck, &sub.DownloadCount, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.LastVideoLink = lastLink.String
	sub.LastCheck = lastCheck.Time
	return &sub, nil
}
