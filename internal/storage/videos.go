package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const videoColumns = `id, title, author, source_url, platform, file_path, thumbnail_path,
	subtitle_path, description, duration, upload_date, series_title, part_number,
	total_parts, status, created_at`

func (s *Store) SaveVideo(ctx context.Context, video *Video) error {
	if video.ID == "" {
		video.ID = uuid.NewString()
	}
	if video.Status == "" {
		video.Status = VideoStatusAvailable
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO videos (` + videoColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		video.ID, video.Title, video.Author, video.SourceURL, video.Platform,
		video.FilePath, video.ThumbnailPath, video.SubtitlePath, video.Description,
		video.Duration, video.UploadDate, video.SeriesTitle, video.PartNumber,
		video.TotalParts, video.Status, video.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}
	return nil
}

func (s *Store) GetVideoBySourceURL(ctx context.Context, sourceURL string) (*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE source_url = ? AND total_parts = 0 LIMIT 1`
	return s.scanVideo(s.db.QueryRowContext(ctx, query, sourceURL))
}

func (s *Store) GetVideoByID(ctx context.Context, id string) (*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = ?`
	return s.scanVideo(s.db.QueryRowContext(ctx, query, id))
}

// GetVideosBySourceURL returns every record for a source URL, multi-part rows
// included.
func (s *Store) GetVideosBySourceURL(ctx context.Context, sourceURL string) ([]*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE source_url = ? ORDER BY part_number`
	rows, err := s.db.QueryContext(ctx, query, sourceURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var videos []*Video
	for rows.Next() {
		video, err := s.scanVideoRow(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func (s *Store) UpdateVideo(ctx context.Context, id string, patch VideoPatch) error {
	sets := ""
	args := []any{}
	appendSet := func(col string, val any) {
		if sets != "" {
			sets += ", "
		}
		sets += col + " = ?"
		args = append(args, val)
	}
	if patch.Title != nil {
		appendSet("title", *patch.Title)
	}
	if patch.FilePath != nil {
		appendSet("file_path", *patch.FilePath)
	}
	if patch.ThumbnailPath != nil {
		appendSet("thumbnail_path", *patch.ThumbnailPath)
	}
	if patch.SubtitlePath != nil {
		appendSet("subtitle_path", *patch.SubtitlePath)
	}
	if patch.Status != nil {
		appendSet("status", *patch.Status)
	}
	if sets == "" {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, "UPDATE videos SET "+sets+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	return nil
}

// CheckVideoDownloadBySourceID reports whether any record exists for the
// source URL, regardless of part layout.
func (s *Store) CheckVideoDownloadBySourceID(ctx context.Context, sourceURL string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM videos WHERE source_url = ?", sourceURL).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkSourceAvailable repairs a previously recorded "deleted" status once a
// fresh file for the same source lands on disk.
func (s *Store) MarkSourceAvailable(ctx context.Context, sourceURL string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE videos SET status = ? WHERE source_url = ? AND status = ?",
		VideoStatusAvailable, sourceURL, VideoStatusDeleted)
	return err
}

func (s *Store) scanVideo(row *sql.Row) (*Video, error) {
	var video Video
	var author, filePath, thumbPath, subPath, desc, series sql.NullString
	var uploadDate sql.NullTime
	err := row.Scan(&video.ID, &video.Title, &author, &video.SourceURL, &video.Platform,
		&filePath, &thumbPath, &subPath, &desc, &video.Duration, &uploadDate,
		&series, &video.PartNumber, &video.TotalParts, &video.Status, &video.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	video.Author = author.String
	video.FilePath = filePath.String
	video.ThumbnailPath = thumbPath.String
	video.SubtitlePath = subPath.String
	video.Description = desc.String
	video.SeriesTitle = series.String
	video.UploadDate = uploadDate.Time
	return &video, nil
}

func (s *Store) scanVideoRow(rows *sql.Rows) (*Video, error) {
	var video Video
	var author, filePath, thumbPath, subPath, desc, series sql.NullString
	var uploadDate sql.NullTime
	err := rows.Scan(&video.ID, &video.Title, &author, &video.SourceURL, &video.Platform,
		&filePath, &thumbPath, &subPath, &desc, &video.Duration, &uploadDate,
		&series, &video.PartNumber, &video.TotalParts, &video.Status, &video.CreatedAt)
	if err != nil {
		return nil, err
	}
	video.Author = author.String
	video.FilePath = filePath.String
	video.ThumbnailPath = thumbPath.String
	video.SubtitlePath = subPath.String
	video.Description = desc.String
	video.SeriesTitle = series.String
	video.UploadDate = uploadDate.Time
	return &video, nil
}
