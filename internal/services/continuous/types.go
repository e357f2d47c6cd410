package continuous

import (
	"context"
	"sync"
	"time"

	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/services/manager"
	"github.com/mediakeep/mediakeep/internal/storage"
)

// Store is the slice of the storage layer the backfill engine needs.
type Store interface {
	SaveContinuousTask(ctx context.Context, task *storage.ContinuousTask) error
	GetContinuousTask(ctx context.Context, id string) (*storage.ContinuousTask, error)
	GetContinuousTaskByAuthorURL(ctx context.Context, authorURL string) (*storage.ContinuousTask, error)
	GetContinuousTasks(ctx context.Context) ([]*storage.ContinuousTask, error)
	DeleteContinuousTask(ctx context.Context, id string) error
	DeleteCompletedContinuousTasks(ctx context.Context) (int64, error)
	GetVideoBySourceURL(ctx context.Context, sourceURL string) (*storage.Video, error)
}

// Queue is the download manager surface backfill downloads go through, so
// every attempt respects the concurrency cap and shows up in the registry
// and history like any user-initiated download.
type Queue interface {
	AddDownload(ctx context.Context, work manager.WorkFn, id, title, sourceURL, taskType string) <-chan manager.Outcome
}

// Service is the continuous-download engine: one persisted task per
// author/channel, walked sequentially from a saved index.
type Service struct {
	Store       Store
	Queue       Queue
	Downloaders map[string]downloader.Downloader

	// IterationDelay spaces consecutive attempts; defaults to one second.
	IterationDelay time.Duration

	mu         sync.Mutex
	processing map[string]struct{}
}

func NewService(store Store, queue Queue, downloaders map[string]downloader.Downloader) *Service {
	return &Service{
		Store:          store,
		Queue:          queue,
		Downloaders:    downloaders,
		IterationDelay: time.Second,
		processing:     map[string]struct{}{},
	}
}
