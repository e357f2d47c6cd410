package manager

import (
	"context"
	"fmt"

	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/storage"
	"go.uber.org/zap"
)

// Initialize restores persisted state after a restart: the concurrency
// setting and every queued task, each rebuilt through the work factory. It
// never fails; a broken row is logged and skipped so one bad record cannot
// keep the server down.
func (s *Service) Initialize(ctx context.Context) {
	if n, err := s.Store.GetMaxConcurrentDownloads(ctx); err != nil {
		zaplog.ErrorC(ctx, "failed to load concurrency setting, keeping default", zap.Error(err))
	} else if n > 0 {
		s.mu.Lock()
		s.maxConcurrent = n
		s.mu.Unlock()
	}

	items, err := s.Store.GetQueuedDownloads(ctx)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to load persisted queue", zap.Error(err))
		return
	}
	restored := 0
	for _, item := range items {
		if s.WorkFactory == nil {
			break
		}
		work, err := s.WorkFactory(item)
		if err != nil {
			zaplog.ErrorC(ctx, "failed to rebuild queued task, dropping it",
				zap.String("id", item.ID), zap.String("type", item.Type), zap.Error(err))
			_ = s.Store.RemoveQueuedDownload(ctx, item.ID)
			continue
		}
		s.AddDownload(ctx, work, item.ID, item.Title, item.SourceURL, item.Type)
		restored++
	}
	if restored > 0 {
		zaplog.InfoC(ctx, "restored persisted download queue", zap.Int("count", restored))
	}
}

// AddDownload runs the work immediately when a slot is free, otherwise
// queues it. The returned channel delivers exactly one Outcome once the
// task has actually run or was cancelled while queued.
func (s *Service) AddDownload(ctx context.Context, work WorkFn, id, title, sourceURL, taskType string) <-chan Outcome {
	if id == "" {
		id = uuid.NewString()
	}
	t := &task{
		id:        id,
		title:     title,
		sourceURL: sourceURL,
		taskType:  taskType,
		work:      work,
		outcome:   make(chan Outcome, 1),
	}

	s.mu.Lock()
	if len(s.active) < s.maxConcurrent {
		s.startLocked(ctx, t)
		s.mu.Unlock()
		return t.outcome
	}
	s.nextPosition++
	position := s.nextPosition
	// The persisted row must exist before the task can start; finish removes
	// it, and a save landing after that removal would replay on restart.
	if err := s.Store.SaveQueuedDownload(ctx, &storage.QueuedDownload{
		ID: id, Title: title, SourceURL: sourceURL, Type: taskType, Position: position,
	}); err != nil {
		zaplog.ErrorC(ctx, "failed to persist queued download", zap.String("id", id), zap.Error(err))
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()

	zaplog.InfoC(ctx, "download queued", zap.String("id", id), zap.String("title", title))
	return t.outcome
}

// startLocked registers the task as active and launches it. Caller holds
// s.mu.
func (s *Service) startLocked(ctx context.Context, t *task) {
	s.active[t.id] = t
	s.Store.AddActiveDownload(storage.ActiveDownloadRecord{
		ID:        t.id,
		Title:     t.title,
		SourceURL: t.sourceURL,
		Type:      t.taskType,
	})
	if s.Hooks != nil {
		s.Hooks.TaskBeforeStart(ctx, t.id, t.title)
	}
	zaplog.InfoC(ctx, "download started", zap.String("id", t.id), zap.String("title", t.title))
	go s.run(ctx, t)
}

func (s *Service) run(ctx context.Context, t *task) {
	result, err := t.work(ctx, func(cancel func()) {
		s.mu.Lock()
		t.cancelFn = cancel
		s.mu.Unlock()
	})
	s.finish(ctx, t, result, err)
}

// finish removes the active entry, records history, fires side effects, and
// advances the queue. Advancement happens on every outcome; anything else
// deadlocks the queue.
func (s *Service) finish(ctx context.Context, t *task, result *downloader.DownloadResult, err error) {
	s.mu.Lock()
	delete(s.active, t.id)
	s.mu.Unlock()
	s.Store.RemoveActiveDownload(t.id)
	if rmErr := s.Store.RemoveQueuedDownload(ctx, t.id); rmErr != nil {
		zaplog.ErrorC(ctx, "failed to clear persisted queue entry", zap.String("id", t.id), zap.Error(rmErr))
	}

	title := t.title
	if err == nil && result != nil && result.Video != nil && result.Video.Title != "" {
		title = result.Video.Title
	}

	if err != nil {
		s.recordHistory(ctx, t, title, storage.HistoryStatusFailed, err.Error())
		if s.Hooks != nil {
			if apperrors.IsCancelled(err) {
				s.Hooks.TaskCancel(ctx, t.id, title)
			} else {
				s.Hooks.TaskFail(ctx, t.id, title, err)
			}
		}
		zaplog.ErrorC(ctx, "download finished with error", zap.String("id", t.id), zap.Error(err))
	} else {
		s.recordHistory(ctx, t, title, storage.HistoryStatusSuccess, "")
		// A fresh multi-part result may resurrect a source previously marked
		// deleted because its file vanished.
		if result != nil && result.IsMultiPart && t.sourceURL != "" {
			if repairErr := s.Store.MarkSourceAvailable(ctx, t.sourceURL); repairErr != nil {
				zaplog.ErrorC(ctx, "failed to repair deleted-source status", zap.Error(repairErr))
			}
		}
		if s.Mirror != nil && result != nil && result.Video != nil && result.Video.FilePath != "" {
			go s.uploadToMirror(ctx, result.Video.FilePath)
		}
		if s.Hooks != nil {
			s.Hooks.TaskSuccess(ctx, t.id, title, result)
		}
		zaplog.InfoC(ctx, "download completed", zap.String("id", t.id), zap.String("title", title))
	}

	t.outcome <- Outcome{Result: result, Err: err}

	s.mu.Lock()
	s.advanceLocked(ctx)
	s.mu.Unlock()
}

// advanceLocked drains queued tasks into free slots. Caller holds s.mu.
func (s *Service) advanceLocked(ctx context.Context) {
	for len(s.active) < s.maxConcurrent && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.startLocked(ctx, next)
	}
}

func (s *Service) recordHistory(ctx context.Context, t *task, title, status, errMsg string) {
	err := s.Store.AddDownloadHistoryItem(ctx, &storage.HistoryItem{
		DownloadID: t.id,
		Title:      title,
		SourceURL:  t.sourceURL,
		Platform:   t.taskType,
		Status:     status,
		Error:      errMsg,
	})
	if err != nil {
		zaplog.ErrorC(ctx, "failed to record download history", zap.String("id", t.id), zap.Error(err))
	}
}

func (s *Service) uploadToMirror(ctx context.Context, path string) {
	if err := s.Mirror.Upload(ctx, path); err != nil {
		zaplog.ErrorC(ctx, "mirror upload failed", zap.String("path", path), zap.Error(err))
	}
}

// CancelDownload cancels an active task through its registered cancel
// callback, or removes a still-queued task outright (its work never ran, so
// its channel gets a cancelled outcome directly).
func (s *Service) CancelDownload(ctx context.Context, id string) error {
	s.mu.Lock()
	if t, ok := s.active[id]; ok {
		cancel := t.cancelFn
		s.mu.Unlock()
		// Registry removal is the poll signal; the kill accelerates it.
		s.Store.RemoveActiveDownload(id)
		if cancel != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						zaplog.ErrorC(ctx, "cancel callback panicked", zap.String("id", id), zap.Any("panic", r))
					}
				}()
				cancel()
			}()
		}
		zaplog.InfoC(ctx, "cancel requested for active download", zap.String("id", id))
		return nil
	}
	for i, t := range s.queue {
		if t.id == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			if err := s.Store.RemoveQueuedDownload(ctx, id); err != nil {
				zaplog.ErrorC(ctx, "failed to remove queued download", zap.String("id", id), zap.Error(err))
			}
			t.outcome <- Outcome{Err: apperrors.NewCancelledError(id)}
			zaplog.InfoC(ctx, "queued download removed", zap.String("id", id))
			return nil
		}
	}
	s.mu.Unlock()
	return apperrors.NewNotFoundError("download not found: %s", id)
}

// SetMaxConcurrentDownloads persists and applies a new cap. Raising it
// starts queued tasks immediately; lowering it only affects future slots,
// running tasks are never interrupted.
func (s *Service) SetMaxConcurrentDownloads(ctx context.Context, n int) error {
	if n < 1 {
		return apperrors.NewValidationError("max concurrent downloads must be at least 1, got %d", n)
	}
	if err := s.Store.SaveMaxConcurrentDownloads(ctx, n); err != nil {
		return fmt.Errorf("failed to persist concurrency setting: %w", err)
	}
	s.mu.Lock()
	s.maxConcurrent = n
	s.advanceLocked(ctx)
	s.mu.Unlock()
	zaplog.InfoC(ctx, "max concurrent downloads updated", zap.Int("limit", n))
	return nil
}

func (s *Service) GetMaxConcurrentDownloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Active: len(s.active), Queued: len(s.queue)}
}

// UpdateTaskTitle renames an active or queued task in place without
// affecting ordering.
func (s *Service) UpdateTaskTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	if t, ok := s.active[id]; ok {
		t.title = title
		s.mu.Unlock()
		s.Store.UpdateActiveDownload(id, func(record *storage.ActiveDownloadRecord) {
			record.Title = title
		})
		return nil
	}
	for _, t := range s.queue {
		if t.id == id {
			t.title = title
			s.mu.Unlock()
			if err := s.Store.UpdateQueuedDownloadTitle(ctx, id, title); err != nil {
				return fmt.Errorf("failed to persist queued title: %w", err)
			}
			return nil
		}
	}
	s.mu.Unlock()
	return apperrors.NewNotFoundError("download not found: %s", id)
}
