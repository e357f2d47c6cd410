package continuous

import (
	"context"
	"fmt"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/storage"
	"go.uber.org/zap"
)

// CreateTask persists a new backfill task and starts processing it in the
// background. It returns before any video is downloaded.
func (s *Service) CreateTask(ctx context.Context, authorURL, author, platform, subscriptionID string) (*storage.ContinuousTask, error) {
	if authorURL == "" {
		return nil, apperrors.NewValidationError("author url is required")
	}
	if platform == "" {
		platform = downloader.DetectPlatform(authorURL)
	}
	dl, ok := s.Downloaders[platform]
	if !ok {
		return nil, apperrors.NewValidationError("unsupported platform: %s", platform)
	}
	if _, ok := dl.(downloader.VideoLister); !ok {
		return nil, apperrors.NewValidationError("platform %s does not support channel enumeration", platform)
	}
	existing, err := s.Store.GetContinuousTaskByAuthorURL(ctx, authorURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing task: %w", err)
	}
	if existing != nil {
		return nil, apperrors.NewDuplicateError("a task for %s already exists", authorURL)
	}

	task := &storage.ContinuousTask{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		AuthorURL:      authorURL,
		Author:         author,
		Platform:       platform,
		Status:         storage.TaskStatusActive,
	}
	if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save continuous task: %w", err)
	}
	zaplog.InfoC(ctx, "continuous task created",
		zap.String("id", task.ID), zap.String("author_url", authorURL), zap.String("platform", platform))
	go s.processTask(context.Background(), task.ID)
	return task, nil
}

// processTask walks the author's video list from the persisted index. A
// second concurrent trigger for the same task id is a no-op.
func (s *Service) processTask(ctx context.Context, id string) {
	s.mu.Lock()
	if _, busy := s.processing[id]; busy {
		s.mu.Unlock()
		return
	}
	s.processing[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.processing, id)
		s.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			zaplog.ErrorC(ctx, "continuous task panicked", zap.String("id", id), zap.Any("panic", r))
			s.abort(ctx, id, fmt.Sprintf("panic: %v", r))
		}
	}()

	task, err := s.Store.GetContinuousTask(ctx, id)
	if err != nil || task == nil {
		zaplog.ErrorC(ctx, "failed to load continuous task", zap.String("id", id), zap.Error(err))
		return
	}
	if task.Status != storage.TaskStatusActive {
		return
	}

	dl := s.Downloaders[task.Platform]
	lister, ok := dl.(downloader.VideoLister)
	if !ok {
		s.abort(ctx, id, fmt.Sprintf("platform %s does not support channel enumeration", task.Platform))
		return
	}

	// Re-enumerated on every resume so uploads that landed mid-backfill are
	// picked up.
	urls, err := lister.ListAllVideoURLs(ctx, task.AuthorURL)
	if err != nil {
		s.abort(ctx, id, fmt.Sprintf("failed to enumerate videos: %v", err))
		return
	}
	task.TotalVideos = len(urls)
	if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
		zaplog.ErrorC(ctx, "failed to persist video count", zap.String("id", id), zap.Error(err))
	}
	zaplog.InfoC(ctx, "continuous task processing",
		zap.String("id", id), zap.Int("total", len(urls)), zap.Int("from_index", task.CurrentVideoIndex))

	for i := task.CurrentVideoIndex; i < len(urls); i++ {
		// Status can flip between iterations; a pause or cancel stops the
		// loop where it stands.
		task, err = s.Store.GetContinuousTask(ctx, id)
		if err != nil || task == nil || task.Status != storage.TaskStatusActive {
			return
		}

		url := urls[i]
		existing, err := s.Store.GetVideoBySourceURL(ctx, url)
		switch {
		case err != nil:
			zaplog.ErrorC(ctx, "dedup lookup failed, treating as new", zap.String("url", url), zap.Error(err))
			fallthrough
		case existing == nil:
			if downloadErr := s.downloadOne(ctx, dl, task, url); downloadErr != nil {
				task.FailedCount++
				zaplog.WarnC(ctx, "continuous download failed, moving on",
					zap.String("id", id), zap.String("url", url), zap.Error(downloadErr))
			} else {
				task.DownloadedCount++
			}
		default:
			task.SkippedCount++
		}

		task.CurrentVideoIndex = i + 1
		if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
			zaplog.ErrorC(ctx, "failed to persist task progress", zap.String("id", id), zap.Error(err))
		}
		time.Sleep(s.IterationDelay)
	}

	task, err = s.Store.GetContinuousTask(ctx, id)
	if err != nil || task == nil || task.Status != storage.TaskStatusActive {
		return
	}
	task.Status = storage.TaskStatusCompleted
	if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
		zaplog.ErrorC(ctx, "failed to mark task completed", zap.String("id", id), zap.Error(err))
		return
	}
	zaplog.InfoC(ctx, "continuous task completed", zap.String("id", id),
		zap.Int("downloaded", task.DownloadedCount), zap.Int("skipped", task.SkippedCount), zap.Int("failed", task.FailedCount))
}

// downloadOne routes a single video through the download queue and waits for
// its outcome, keeping the backfill strictly sequential.
func (s *Service) downloadOne(ctx context.Context, dl downloader.Downloader, task *storage.ContinuousTask, url string) error {
	downloadID := uuid.NewString()
	work := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		return dl.DownloadVideo(ctx, url, downloader.Opts{DownloadID: downloadID, OnStart: registerCancel})
	}
	title := task.Author
	if title == "" {
		title = url
	}
	outcome := <-s.Queue.AddDownload(ctx, work, downloadID, title, url, task.Platform)
	return outcome.Err
}

// abort is the single terminal path for orchestration failures. There is no
// failed state for tasks; a broken run is recorded as cancelled with the
// message.
func (s *Service) abort(ctx context.Context, id, message string) {
	task, err := s.Store.GetContinuousTask(ctx, id)
	if err != nil || task == nil {
		return
	}
	task.Status = storage.TaskStatusCancelled
	task.Error = message
	if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
		zaplog.ErrorC(ctx, "failed to record task abort", zap.String("id", id), zap.Error(err))
	}
}

func (s *Service) GetTask(ctx context.Context, id string) (*storage.ContinuousTask, error) {
	task, err := s.Store.GetContinuousTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load continuous task: %w", err)
	}
	if task == nil {
		return nil, apperrors.NewNotFoundError("continuous task not found: %s", id)
	}
	return task, nil
}

func (s *Service) GetTasks(ctx context.Context) ([]*storage.ContinuousTask, error) {
	return s.Store.GetContinuousTasks(ctx)
}

// PauseTask stops the loop at its next status recheck. The saved index makes
// a later resume pick up exactly where it stopped.
func (s *Service) PauseTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != storage.TaskStatusActive {
		return apperrors.NewValidationError("task is %s, only active tasks can be paused", task.Status)
	}
	task.Status = storage.TaskStatusPaused
	return s.Store.SaveContinuousTask(ctx, task)
}

func (s *Service) ResumeTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != storage.TaskStatusPaused {
		return apperrors.NewValidationError("task is %s, only paused tasks can be resumed", task.Status)
	}
	task.Status = storage.TaskStatusActive
	if err := s.Store.SaveContinuousTask(ctx, task); err != nil {
		return err
	}
	go s.processTask(context.Background(), id)
	return nil
}

func (s *Service) CancelTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == storage.TaskStatusCompleted || task.Status == storage.TaskStatusCancelled {
		return nil
	}
	task.Status = storage.TaskStatusCancelled
	return s.Store.SaveContinuousTask(ctx, task)
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.Store.DeleteContinuousTask(ctx, id); err != nil {
		return fmt.Errorf("failed to delete continuous task: %w", err)
	}
	return nil
}

// ClearCompleted removes completed and cancelled tasks in one sweep.
func (s *Service) ClearCompleted(ctx context.Context) (int64, error) {
	return s.Store.DeleteCompletedContinuousTasks(ctx)
}
