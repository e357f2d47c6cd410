package storage

import "time"

// Video statuses.
const (
	VideoStatusAvailable = "available"
	VideoStatusDeleted   = "deleted"
)

// Continuous task statuses.
const (
	TaskStatusActive    = "active"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

// History statuses.
const (
	HistoryStatusSuccess = "success"
	HistoryStatusFailed  = "failed"
)

type Video struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	SourceURL     string    `json:"source_url"`
	Platform      string    `json:"platform"`
	FilePath      string    `json:"file_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	SubtitlePath  string    `json:"subtitle_path,omitempty"`
	Description   string    `json:"description,omitempty"`
	Duration      int       `json:"duration,omitempty"`
	UploadDate    time.Time `json:"upload_date"`
	SeriesTitle   string    `json:"series_title,omitempty"`
	PartNumber    int       `json:"part_number,omitempty"`
	TotalParts    int       `json:"total_parts,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type VideoPatch struct {
	Title         *string `json:"title,omitempty"`
	FilePath      *string `json:"file_path,omitempty"`
	ThumbnailPath *string `json:"thumbnail_path,omitempty"`
	SubtitlePath  *string `json:"subtitle_path,omitempty"`
	Status        *string `json:"status,omitempty"`
}

type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	VideoIDs    []string  `json:"video_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

type Subscription struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	AuthorURL     string    `json:"author_url"`
	Platform      string    `json:"platform"`
	Interval      int       `json:"interval"` // minutes
	LastVideoLink string    `json:"last_video_link,omitempty"`
	LastCheck     time.Time `json:"last_check"`
	DownloadCount int       `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type ContinuousTask struct {
	ID                string    `json:"id"`
	SubscriptionID    string    `json:"subscription_id,omitempty"`
	AuthorURL         string    `json:"author_url"`
	Author            string    `json:"author"`
	Platform          string    `json:"platform"`
	Status            string    `json:"status"`
	TotalVideos       int       `json:"total_videos"`
	DownloadedCount   int       `json:"downloaded_count"`
	SkippedCount      int       `json:"skipped_count"`
	FailedCount       int       `json:"failed_count"`
	CurrentVideoIndex int       `json:"current_video_index"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// QueuedDownload is the persisted shape of a not-yet-started queue entry,
// replayed through the work factory at startup.
type QueuedDownload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url"`
	Type      string    `json:"type"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryItem struct {
	ID         int64     `json:"id"`
	DownloadID string    `json:"download_id"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"source_url"`
	Platform   string    `json:"platform"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActiveDownloadRecord lives only in memory. Presence in the registry is the
// cancellation signal downloaders poll for.
type ActiveDownloadRecord struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Progress       float64 `json:"progress"`
	DownloadedSize string  `json:"downloaded_size,omitempty"`
	TotalSize      string  `json:"total_size,omitempty"`
	Speed          string  `json:"speed,omitempty"`
	SourceURL      string  `json:"source_url,omitempty"`
	Type           string  `json:"type,omitempty"`
}

type DownloadStatus struct {
	ActiveDownloads []ActiveDownloadRecord `json:"active_downloads"`
	QueuedDownloads []QueuedDownload       `json:"queued_downloads"`
}
