package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	queued  map[string]storage.QueuedDownload
	active  map[string]storage.ActiveDownloadRecord
	history []storage.HistoryItem
	maxSet  int
}

func newMemStore() *memStore {
	return &memStore{
		queued: map[string]storage.QueuedDownload{},
		active: map[string]storage.ActiveDownloadRecord{},
	}
}

func (m *memStore) SaveQueuedDownload(_ context.Context, item *storage.QueuedDownload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[item.ID] = *item
	return nil
}

func (m *memStore) RemoveQueuedDownload(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queued, id)
	return nil
}

func (m *memStore) GetQueuedDownloads(_ context.Context) ([]storage.QueuedDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []storage.QueuedDownload
	for _, item := range m.queued {
		items = append(items, item)
	}
	return items, nil
}

func (m *memStore) UpdateQueuedDownloadTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.queued[id]; ok {
		item.Title = title
		m.queued[id] = item
	}
	return nil
}

func (m *memStore) AddActiveDownload(record storage.ActiveDownloadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[record.ID] = record
}

func (m *memStore) RemoveActiveDownload(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

func (m *memStore) UpdateActiveDownload(id string, update func(*storage.ActiveDownloadRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.active[id]; ok {
		update(&record)
		m.active[id] = record
	}
}

func (m *memStore) AddDownloadHistoryItem(_ context.Context, item *storage.HistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *item)
	return nil
}

func (m *memStore) GetMaxConcurrentDownloads(_ context.Context) (int, error) { return m.maxSet, nil }

func (m *memStore) SaveMaxConcurrentDownloads(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSet = n
	return nil
}

func (m *memStore) MarkSourceAvailable(_ context.Context, _ string) error { return nil }

func (m *memStore) historyByStatus(status string) []storage.HistoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []storage.HistoryItem
	for _, item := range m.history {
		if item.Status == status {
			items = append(items, item)
		}
	}
	return items
}

// blockingWork returns a WorkFn that blocks until release is closed (or a
// registered cancel fires), plus the release function.
func blockingWork() (WorkFn, func()) {
	release := make(chan struct{})
	var once sync.Once
	work := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		done := make(chan error, 1)
		registerCancel(func() { done <- apperrors.NewCancelledError("") })
		select {
		case <-release:
			return &downloader.DownloadResult{}, nil
		case err := <-done:
			return nil, err
		}
	}
	return work, func() { once.Do(func() { close(release) }) }
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConcurrencyCapInvariant(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 2)
	ctx := context.Background()

	var releases []func()
	var outcomes []<-chan Outcome
	for i := 0; i < 5; i++ {
		work, release := blockingWork()
		releases = append(releases, release)
		outcomes = append(outcomes, svc.AddDownload(ctx, work, "", "t", "u", "youtube"))
	}

	status := svc.GetStatus()
	if status.Active != 2 || status.Queued != 3 {
		t.Fatalf("status = %+v, expected 2 active / 3 queued", status)
	}

	// Finish everything; the cap must hold at every step.
	for i := range releases {
		releases[i]()
	}
	for _, ch := range outcomes {
		select {
		case out := <-ch:
			if out.Err != nil {
				t.Errorf("unexpected error: %v", out.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("outcome never delivered")
		}
	}
	status = svc.GetStatus()
	if status.Active != 0 || status.Queued != 0 {
		t.Errorf("final status = %+v, expected all drained", status)
	}
	if got := len(store.historyByStatus(storage.HistoryStatusSuccess)); got != 5 {
		t.Errorf("success history entries = %d, expected 5", got)
	}
}

func TestQueueAdvancesOnFailure(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 1)
	ctx := context.Background()

	failing := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		return nil, errors.New("tool exploded")
	}
	first := svc.AddDownload(ctx, failing, "f1", "bad", "u1", "youtube")

	work, release := blockingWork()
	second := svc.AddDownload(ctx, work, "f2", "good", "u2", "youtube")

	out := <-first
	if out.Err == nil {
		t.Fatal("expected failure outcome")
	}
	// The failure must free the slot for the queued task.
	waitFor(t, func() bool { return svc.GetStatus().Active == 1 || svc.GetStatus().Queued == 0 }, "queue did not advance after failure")
	release()
	if out := <-second; out.Err != nil {
		t.Errorf("second task failed: %v", out.Err)
	}
	if got := len(store.historyByStatus(storage.HistoryStatusFailed)); got != 1 {
		t.Errorf("failed history entries = %d, expected 1", got)
	}
}

func TestCancelActiveDownload(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 1)
	ctx := context.Background()

	work, _ := blockingWork()
	outcome := svc.AddDownload(ctx, work, "dl-1", "t", "u", "youtube")
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.active["dl-1"]
		return ok
	}, "task never became active")

	if err := svc.CancelDownload(ctx, "dl-1"); err != nil {
		t.Fatal(err)
	}
	out := <-outcome
	if !apperrors.IsCancelled(out.Err) {
		t.Errorf("expected cancellation error, got %v", out.Err)
	}
	store.mu.Lock()
	_, stillActive := store.active["dl-1"]
	store.mu.Unlock()
	if stillActive {
		t.Error("registry entry survived cancellation")
	}
	if got := len(store.historyByStatus(storage.HistoryStatusFailed)); got != 1 {
		t.Errorf("failed history entries = %d, expected exactly 1", got)
	}
}

func TestCancelQueuedDownload(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 1)
	ctx := context.Background()

	work, release := blockingWork()
	svc.AddDownload(ctx, work, "running", "t", "u", "youtube")

	ran := false
	queuedWork := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		ran = true
		return nil, nil
	}
	outcome := svc.AddDownload(ctx, queuedWork, "waiting", "t", "u", "youtube")

	if err := svc.CancelDownload(ctx, "waiting"); err != nil {
		t.Fatal(err)
	}
	out := <-outcome
	if !apperrors.IsCancelled(out.Err) {
		t.Errorf("expected cancellation error, got %v", out.Err)
	}
	release()
	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Error("cancelled queued work function was invoked")
	}
	if svc.GetStatus().Queued != 0 {
		t.Error("queued entry survived cancellation")
	}
}

func TestCancelUnknownDownload(t *testing.T) {
	svc := NewService(newMemStore(), nil, 1)
	if err := svc.CancelDownload(context.Background(), "nope"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestUpdateTaskTitle(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 1)
	ctx := context.Background()

	work, release := blockingWork()
	defer release()
	svc.AddDownload(ctx, work, "a1", "old", "u", "youtube")

	work2, release2 := blockingWork()
	defer release2()
	svc.AddDownload(ctx, work2, "q1", "old", "u", "youtube")

	if err := svc.UpdateTaskTitle(ctx, "a1", "new active"); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	activeTitle := store.active["a1"].Title
	store.mu.Unlock()
	if activeTitle != "new active" {
		t.Errorf("active title = %q", activeTitle)
	}

	if err := svc.UpdateTaskTitle(ctx, "q1", "new queued"); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	queuedTitle := store.queued["q1"].Title
	store.mu.Unlock()
	if queuedTitle != "new queued" {
		t.Errorf("queued title = %q", queuedTitle)
	}

	if err := svc.UpdateTaskTitle(ctx, "ghost", "x"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestRaisingCapDrainsQueue(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 1)
	ctx := context.Background()

	var releases []func()
	for _, id := range []string{"d1", "d2", "d3"} {
		work, release := blockingWork()
		releases = append(releases, release)
		svc.AddDownload(ctx, work, id, "t", "u", "youtube")
	}
	if status := svc.GetStatus(); status.Active != 1 || status.Queued != 2 {
		t.Fatalf("status = %+v", status)
	}

	if err := svc.SetMaxConcurrentDownloads(ctx, 3); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.GetStatus().Active == 3 }, "raised cap did not drain queue")

	if err := svc.SetMaxConcurrentDownloads(ctx, 0); !apperrors.IsValidation(err) {
		t.Errorf("expected validation error for cap 0, got %v", err)
	}
	for _, release := range releases {
		release()
	}
}

func TestInitializeRestoresQueue(t *testing.T) {
	store := newMemStore()
	store.maxSet = 2
	store.queued["r1"] = storage.QueuedDownload{ID: "r1", Title: "restored", SourceURL: "u", Type: "youtube", Position: 1}

	ran := make(chan string, 1)
	factory := func(item storage.QueuedDownload) (WorkFn, error) {
		return func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
			ran <- item.ID
			return nil, nil
		}, nil
	}
	svc := NewService(store, factory, 1)
	svc.Initialize(context.Background())

	select {
	case id := <-ran:
		if id != "r1" {
			t.Errorf("restored wrong task: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("restored task never ran")
	}
}

// slowSaveStore delays queued-row persistence until its gate is closed.
type slowSaveStore struct {
	*memStore
	gate chan struct{}
}

func (s *slowSaveStore) SaveQueuedDownload(ctx context.Context, item *storage.QueuedDownload) error {
	<-s.gate
	return s.memStore.SaveQueuedDownload(ctx, item)
}

func TestQueuedRowPersistsBeforeStart(t *testing.T) {
	store := newMemStore()
	gated := &slowSaveStore{memStore: store, gate: make(chan struct{})}
	svc := NewService(gated, nil, 1)
	ctx := context.Background()

	firstWork, releaseFirst := blockingWork()
	first := svc.AddDownload(ctx, firstWork, "s1", "t1", "u1", "youtube")

	started := make(chan struct{})
	secondWork := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		close(started)
		return &downloader.DownloadResult{}, nil
	}
	secondCh := make(chan (<-chan Outcome), 1)
	go func() {
		secondCh <- svc.AddDownload(ctx, secondWork, "s2", "t2", "u2", "youtube")
	}()

	releaseFirst()
	// The queued task must not run while its row is still unsaved; otherwise
	// a fast completion removes the row before the save lands and the stale
	// row replays on the next restart.
	select {
	case <-started:
		t.Fatal("queued work ran before its row was persisted")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.gate)
	second := <-secondCh
	if out := <-first; out.Err != nil {
		t.Fatalf("unexpected first outcome error: %v", out.Err)
	}
	if out := <-second; out.Err != nil {
		t.Fatalf("unexpected second outcome error: %v", out.Err)
	}
	waitFor(t, func() bool {
		items, _ := store.GetQueuedDownloads(context.Background())
		return len(items) == 0
	}, "stale queued row survived completion")
}
