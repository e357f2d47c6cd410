package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const taskColumns = `id, subscription_id, author_url, author, platform, status, total_videos,
	downloaded_count, skipped_count, failed_count, current_video_index, error, created_at, updated_at`

func (s *Store) SaveContinuousTask(ctx context.Context, task *ContinuousTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	query := `
	INSERT INTO continuous_tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		total_videos = excluded.total_videos,
		downloaded_count = excluded.downloaded_count,
		skipped_count = excluded.skipped_count,
		failed_count = excluded.failed_count,
		current_video_index = excluded.current_video_index,
		error = excluded.error,
		updated_at = excluded.updated_at;
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.SubscriptionID, task.AuthorURL, task.Author, task.Platform,
		task.Status, task.TotalVideos, task.DownloadedCount, task.SkippedCount,
		task.FailedCount, task.CurrentVideoIndex, task.Error, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save continuous task: %w", err)
	}
	return nil
}

func (s *Store) GetContinuousTask(ctx context.Context, id string) (*ContinuousTask, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM continuous_tasks WHERE id = ?", id)
	return scanContinuousTask(row)
}

func (s *Store) GetContinuousTaskByAuthorURL(ctx context.Context, authorURL string) (*ContinuousTask, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM continuous_tasks WHERE author_url = ? AND status IN ('active','paused') LIMIT 1", authorURL)
	return scanContinuousTask(row)
}

func (s *Store) GetContinuousTasks(ctx context.Context) ([]*ContinuousTask, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM continuous_tasks ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*ContinuousTask
	for rows.Next() {
		var task ContinuousTask
		var subID, author, errMsg sql.NullString
		if err := rows.Scan(&task.ID, &subID, &task.AuthorURL, &author, &task.Platform,
			&task.Status, &task.TotalVideos, &task.DownloadedCount, &task.SkippedCount,
			&task.FailedCount, &task.CurrentVideoIndex, &errMsg, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, err
		}
		task.SubscriptionID = subID.String
		task.Author = author.String
		task.Error = errMsg.String
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (s *Store) DeleteContinuousTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM continuous_tasks WHERE id = ?", id)
	return err
}

// DeleteCompletedContinuousTasks clears terminal tasks and reports how many
// rows went away.
func (s *Store) DeleteCompletedContinuousTasks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM continuous_tasks WHERE status IN ('completed','cancelled')")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanContinuousTask(row *sql.Row) (*ContinuousTask, error) {
	var task ContinuousTask
	var subID, author, errMsg sql.NullString
	err := row.Scan(&task.ID, &subID, &task.AuthorURL, &author, &task.Platform,
		&task.Status, &task.TotalVideos, &task.DownloadedCount, &task.SkippedCount,
		&task.FailedCount, &task.CurrentVideoIndex, &errMsg, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task.SubscriptionID = subID.String
	task.Author = author.String
	task.Error = errMsg.String
	return &task, nil
}
