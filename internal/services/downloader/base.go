package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/semaphore"
	"github.com/mediakeep/mediakeep/internal"
	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/storage"
	"go.uber.org/zap"
)

const thumbnailTimeout = 60 * time.Second

// Base centralizes the cross-cutting pieces every platform shares:
// cancellation semantics, thumbnail fetch, title refinement. Platform
// implementations embed it.
type Base struct {
	Store        Store
	HTTPClient   *http.Client
	ThumbLimiter *semaphore.Semaphore
}

func NewBase(store Store) Base {
	return Base{
		Store:        store,
		HTTPClient:   &http.Client{Timeout: thumbnailTimeout},
		ThumbLimiter: semaphore.NewSemaphore(2),
	}
}

// DownloadThumbnail is best-effort: a failure degrades output quality, never
// the download. Returns whether the file was saved.
func (b *Base) DownloadThumbnail(ctx context.Context, url, path string) bool {
	if url == "" {
		return false
	}
	b.ThumbLimiter.Acquire()
	defer b.ThumbLimiter.Release()

	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		zaplog.WarnC(ctx, "failed to build thumbnail request", zap.String("url", url), zap.Error(err))
		return false
	}
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		zaplog.WarnC(ctx, "failed to fetch thumbnail", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		zaplog.WarnC(ctx, "thumbnail fetch returned non-200", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return false
	}
	if err := internal.EnsureDir(filepath.Dir(path)); err != nil {
		zaplog.WarnC(ctx, "failed to create thumbnail dir", zap.Error(err))
		return false
	}
	out, err := os.Create(path)
	if err != nil {
		zaplog.WarnC(ctx, "failed to create thumbnail file", zap.String("path", path), zap.Error(err))
		return false
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		zaplog.WarnC(ctx, "failed to write thumbnail", zap.String("path", path), zap.Error(err))
		_ = os.Remove(path)
		return false
	}
	return true
}

// CheckCancelled polls the active registry. Absence of the record is the
// cancellation signal; implementations call this after every suspension
// point.
func (b *Base) CheckCancelled(downloadID string) error {
	if downloadID == "" {
		return nil
	}
	if !b.Store.IsDownloadActive(downloadID) {
		return apperrors.NewCancelledError(downloadID)
	}
	return nil
}

// HandleCancellationError classifies an error as cancellation-shaped (killed
// process, explicit cancel message), runs the optional cleanup, and rethrows
// as DownloadCancelledError. Non-cancellation errors pass through untouched.
func (b *Base) HandleCancellationError(ctx context.Context, err error, downloadID string, cleanup func()) error {
	if err == nil {
		return nil
	}
	if apperrors.IsCancelled(err) || isCancellationShaped(err) {
		if cleanup != nil {
			cleanup()
		}
		zaplog.InfoC(ctx, "download cancelled", zap.String("id", downloadID))
		return apperrors.NewCancelledError(downloadID)
	}
	return err
}

func isCancellationShaped(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "signal: killed") ||
		strings.Contains(msg, "process already finished") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "cancelled")
}

// RefineTitle pushes the real title into the active record once metadata is
// known. Queued-entry titles are the manager's business, not ours.
func (b *Base) RefineTitle(downloadID, title string) {
	if downloadID == "" || title == "" {
		return
	}
	b.Store.UpdateActiveDownload(downloadID, func(record *storage.ActiveDownloadRecord) {
		record.Title = title
	})
}

func fallbackInfo() *VideoInfo {
	return &VideoInfo{
		Title:      UnknownTitle,
		Author:     UnknownAuthor,
		UploadDate: time.Now(),
	}
}

// mergeInfoDefaults backfills placeholders so callers never see empty
// metadata.
func mergeInfoDefaults(info *VideoInfo) *VideoInfo {
	if info == nil {
		return fallbackInfo()
	}
	if info.Title == "" {
		info.Title = UnknownTitle
	}
	if info.Author == "" {
		info.Author = UnknownAuthor
	}
	if info.UploadDate.IsZero() {
		info.UploadDate = time.Now()
	}
	return info
}

func parseUploadDate(yyyymmdd string) time.Time {
	if t, err := time.Parse("20060102", yyyymmdd); err == nil {
		return t
	}
	return time.Now()
}
