package manager

import (
	"context"
	"sync"

	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/storage"
)

// WorkFn is the deferred unit of work for one download. It receives a
// callback to register a cancel function once the underlying process or
// handle exists.
type WorkFn func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error)

// WorkFactory rebuilds a runnable WorkFn from a persisted queue entry at
// startup. Keyed on the entry's platform type.
type WorkFactory func(item storage.QueuedDownload) (WorkFn, error)

// Outcome is delivered on the channel AddDownload returns, once the task has
// actually run (or was cancelled while still queued).
type Outcome struct {
	Result *downloader.DownloadResult
	Err    error
}

// Status is the queue's observable state.
type Status struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
}

// Store is the slice of the storage layer the queue needs.
type Store interface {
	SaveQueuedDownload(ctx context.Context, item *storage.QueuedDownload) error
	RemoveQueuedDownload(ctx context.Context, id string) error
	GetQueuedDownloads(ctx context.Context) ([]storage.QueuedDownload, error)
	UpdateQueuedDownloadTitle(ctx context.Context, id, title string) error
	AddActiveDownload(record storage.ActiveDownloadRecord)
	RemoveActiveDownload(id string)
	UpdateActiveDownload(id string, update func(*storage.ActiveDownloadRecord))
	AddDownloadHistoryItem(ctx context.Context, item *storage.HistoryItem) error
	GetMaxConcurrentDownloads(ctx context.Context) (int, error)
	SaveMaxConcurrentDownloads(ctx context.Context, n int) error
	MarkSourceAvailable(ctx context.Context, sourceURL string) error
}

// LifecycleHooks let external integrations react to task transitions without
// the queue depending on them. All implementations must be non-blocking or
// quick; failures are logged, never propagated.
type LifecycleHooks interface {
	TaskBeforeStart(ctx context.Context, id, title string)
	TaskSuccess(ctx context.Context, id, title string, result *downloader.DownloadResult)
	TaskFail(ctx context.Context, id, title string, err error)
	TaskCancel(ctx context.Context, id, title string)
}

// Mirror is the optional cloud-storage side effect invoked after a
// successful download.
type Mirror interface {
	Upload(ctx context.Context, localPath string) error
}

// Service is the bounded-concurrency download queue. One instance per
// process, constructed and wired at startup.
type Service struct {
	Store       Store
	WorkFactory WorkFactory
	Hooks       LifecycleHooks
	Mirror      Mirror

	mu            sync.Mutex
	maxConcurrent int
	active        map[string]*task
	queue         []*task
	nextPosition  int
}

type task struct {
	id        string
	title     string
	sourceURL string
	taskType  string
	work      WorkFn
	cancelFn  func()
	outcome   chan Outcome
}

func NewService(store Store, factory WorkFactory, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Service{
		Store:         store,
		WorkFactory:   factory,
		maxConcurrent: maxConcurrent,
		active:        map[string]*task{},
	}
}
