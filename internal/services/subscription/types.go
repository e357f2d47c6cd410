package subscription

import (
	"context"

	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/services/manager"
	"github.com/mediakeep/mediakeep/internal/storage"
)

// Store is the slice of the storage layer the checker needs.
type Store interface {
	SaveSubscription(ctx context.Context, sub *storage.Subscription) error
	GetSubscriptionByID(ctx context.Context, id string) (*storage.Subscription, error)
	GetSubscriptionByAuthorURL(ctx context.Context, authorURL string) (*storage.Subscription, error)
	GetSubscriptions(ctx context.Context) ([]*storage.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Queue routes new-video downloads through the download manager so they
// respect the concurrency cap and appear in status and history.
type Queue interface {
	AddDownload(ctx context.Context, work manager.WorkFn, id, title, sourceURL, taskType string) <-chan manager.Outcome
}

// Service polls subscribed channels for their newest upload. Full-channel
// backfill belongs to the continuous service; this one only ever fetches
// the single latest video.
type Service struct {
	Store       Store
	Queue       Queue
	Downloaders map[string]downloader.Downloader
}

func NewService(store Store, queue Queue, downloaders map[string]downloader.Downloader) *Service {
	return &Service{Store: store, Queue: queue, Downloaders: downloaders}
}
