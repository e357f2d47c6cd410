package storage

import (
	"context"
	"sort"

	"github.com/mediakeep/mediakeep/internal/progress"
)

// The active-download registry is deliberately in-memory only: a record
// exists iff the task is executing right now, and its absence is the
// cancellation signal downloaders poll for. A restart therefore clears it,
// which is correct — nothing is executing after a restart.

func (s *Store) AddActiveDownload(record ActiveDownloadRecord) {
	s.active.Store(record.ID, record)
}

func (s *Store) RemoveActiveDownload(id string) {
	s.active.Delete(id)
}

func (s *Store) GetActiveDownload(id string) (ActiveDownloadRecord, bool) {
	data, ok := s.active.Load(id)
	if !ok {
		return ActiveDownloadRecord{}, false
	}
	record, ok := data.(ActiveDownloadRecord)
	return record, ok
}

func (s *Store) IsDownloadActive(id string) bool {
	_, ok := s.active.Load(id)
	return ok
}

// UpdateActiveDownload applies a mutation to an active record if it still
// exists. A miss is not an error: the download may have been cancelled
// between the caller's last check and now.
func (s *Store) UpdateActiveDownload(id string, update func(*ActiveDownloadRecord)) {
	data, ok := s.active.Load(id)
	if !ok {
		return
	}
	record, ok := data.(ActiveDownloadRecord)
	if !ok {
		return
	}
	update(&record)
	// Re-check: a concurrent cancel must win over a progress update.
	if _, still := s.active.Load(id); still {
		s.active.Store(id, record)
	}
}

// PublishProgress implements progress.Publisher.
func (s *Store) PublishProgress(id string, info progress.ProgressInfo) {
	s.UpdateActiveDownload(id, func(record *ActiveDownloadRecord) {
		record.Progress = info.Percent
		record.TotalSize = info.TotalSize
		record.DownloadedSize = info.DownloadedSize
		record.Speed = info.Speed
	})
}

func (s *Store) ActiveDownloads() []ActiveDownloadRecord {
	var records []ActiveDownloadRecord
	s.active.Range(func(_, value any) bool {
		if record, ok := value.(ActiveDownloadRecord); ok {
			records = append(records, record)
		}
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func (s *Store) GetDownloadStatus(ctx context.Context) (*DownloadStatus, error) {
	queued, err := s.GetQueuedDownloads(ctx)
	if err != nil {
		return nil, err
	}
	return &DownloadStatus{
		ActiveDownloads: s.ActiveDownloads(),
		QueuedDownloads: queued,
	}, nil
}
