package continuous

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/services/manager"
	"github.com/mediakeep/mediakeep/internal/storage"
)

type memStore struct {
	mu     sync.Mutex
	tasks  map[string]storage.ContinuousTask
	videos map[string]storage.Video
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]storage.ContinuousTask{}, videos: map[string]storage.Video{}}
}

func (m *memStore) SaveContinuousTask(_ context.Context, task *storage.ContinuousTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *memStore) GetContinuousTask(_ context.Context, id string) (*storage.ContinuousTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		copied := task
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) GetContinuousTaskByAuthorURL(_ context.Context, authorURL string) (*storage.ContinuousTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.AuthorURL == authorURL && (task.Status == storage.TaskStatusActive || task.Status == storage.TaskStatusPaused) {
			copied := task
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetContinuousTasks(_ context.Context) ([]*storage.ContinuousTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*storage.ContinuousTask
	for _, task := range m.tasks {
		copied := task
		tasks = append(tasks, &copied)
	}
	return tasks, nil
}

func (m *memStore) DeleteContinuousTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) DeleteCompletedContinuousTasks(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, task := range m.tasks {
		if task.Status == storage.TaskStatusCompleted || task.Status == storage.TaskStatusCancelled {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) GetVideoBySourceURL(_ context.Context, sourceURL string) (*storage.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if video, ok := m.videos[sourceURL]; ok {
		copied := video
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) task(id string) storage.ContinuousTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

// inlineQueue runs the work function synchronously, no cap, no persistence.
type inlineQueue struct{}

func (inlineQueue) AddDownload(ctx context.Context, work manager.WorkFn, id, title, sourceURL, taskType string) <-chan manager.Outcome {
	ch := make(chan manager.Outcome, 1)
	result, err := work(ctx, func(func()) {})
	ch <- manager.Outcome{Result: result, Err: err}
	return ch
}

// fakeLister is a Downloader + VideoLister with scripted URLs and failures.
type fakeLister struct {
	mu       sync.Mutex
	urls     []string
	listErr  error
	failURLs map[string]bool
	attempts []string
	started  chan string
	block    chan struct{}
}

func (f *fakeLister) GetVideoInfo(ctx context.Context, url string) (*downloader.VideoInfo, error) {
	return &downloader.VideoInfo{Title: "t", Author: "a"}, nil
}

func (f *fakeLister) DownloadVideo(ctx context.Context, url string, opts downloader.Opts) (*downloader.DownloadResult, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, url)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- url
	}
	if f.block != nil {
		<-f.block
	}
	if f.failURLs[url] {
		return nil, errors.New("transfer failed")
	}
	return &downloader.DownloadResult{Video: &storage.Video{SourceURL: url}}, nil
}

func (f *fakeLister) ListAllVideoURLs(ctx context.Context, authorURL string) ([]string, error) {
	return f.urls, f.listErr
}

func (f *fakeLister) attempted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

func newTestService(store *memStore, dl *fakeLister) *Service {
	svc := NewService(store, inlineQueue{}, map[string]downloader.Downloader{downloader.PlatformYouTube: dl})
	svc.IterationDelay = time.Millisecond
	return svc
}

func waitForStatus(t *testing.T, store *memStore, id, status string) storage.ContinuousTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task := store.task(id); task.Status == status {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s (now %s)", id, status, store.task(id).Status)
	return storage.ContinuousTask{}
}

func TestCreateTaskRunsToCompletion(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{urls: []string{"u1", "u2", "u3"}}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "https://youtube.com/@someone/videos", "someone", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, task.ID, storage.TaskStatusCompleted)
	if done.TotalVideos != 3 || done.DownloadedCount != 3 || done.CurrentVideoIndex != 3 {
		t.Errorf("final task = %+v", done)
	}
}

func TestAlreadyArchivedVideosAreSkipped(t *testing.T) {
	store := newMemStore()
	store.videos["u2"] = storage.Video{ID: "v2", SourceURL: "u2"}
	dl := &fakeLister{urls: []string{"u1", "u2", "u3"}}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, task.ID, storage.TaskStatusCompleted)
	if done.DownloadedCount != 2 || done.SkippedCount != 1 {
		t.Errorf("counts = %+v", done)
	}
	for _, url := range dl.attempted() {
		if url == "u2" {
			t.Error("archived video was downloaded again")
		}
	}
}

func TestFailedDownloadAdvancesIndex(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{urls: []string{"u1", "u2", "u3"}, failURLs: map[string]bool{"u2": true}}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, task.ID, storage.TaskStatusCompleted)
	if done.DownloadedCount != 2 || done.FailedCount != 1 || done.CurrentVideoIndex != 3 {
		t.Errorf("final task = %+v", done)
	}
}

func TestPauseStopsLoopWithoutCompleting(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{
		urls:    []string{"u1", "u2", "u3"},
		started: make(chan string, 3),
		block:   make(chan struct{}),
	}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	<-dl.started
	if err := svc.PauseTask(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}
	close(dl.block)

	waitForStatus(t, store, task.ID, storage.TaskStatusPaused)
	time.Sleep(50 * time.Millisecond)
	if got := len(dl.attempted()); got != 1 {
		t.Errorf("attempts after pause = %d, expected 1", got)
	}
	final := store.task(task.ID)
	if final.Status != storage.TaskStatusPaused || final.CurrentVideoIndex != 1 {
		t.Errorf("paused task = %+v", final)
	}
}

func TestDuplicateTaskRejected(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{urls: []string{"u1"}, started: make(chan string, 1), block: make(chan struct{})}
	defer close(dl.block)
	svc := newTestService(store, dl)

	if _, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, ""); err != nil {
		t.Fatal(err)
	}
	<-dl.started
	_, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if !apperrors.IsDuplicate(err) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestUnsupportedPlatformRejected(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeLister{})
	_, err := svc.CreateTask(context.Background(), "url", "a", "gopher-tube", "")
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEnumerationFailureCancelsTask(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{listErr: errors.New("channel gone")}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, task.ID, storage.TaskStatusCancelled)
	if done.Error == "" {
		t.Error("cancelled task carries no error message")
	}
}

func TestConcurrentProcessingIsNoOp(t *testing.T) {
	store := newMemStore()
	dl := &fakeLister{
		urls:    []string{"u1"},
		started: make(chan string, 2),
		block:   make(chan struct{}),
	}
	svc := newTestService(store, dl)

	task, err := svc.CreateTask(context.Background(), "url", "a", downloader.PlatformYouTube, "")
	if err != nil {
		t.Fatal(err)
	}
	<-dl.started
	// Second trigger while the first is mid-download must bounce off the
	// processing guard.
	svc.processTask(context.Background(), task.ID)
	close(dl.block)

	waitForStatus(t, store, task.ID, storage.TaskStatusCompleted)
	if got := len(dl.attempted()); got != 1 {
		t.Errorf("attempts = %d, expected 1", got)
	}
}

func TestResumeReprocessesFromSavedIndex(t *testing.T) {
	store := newMemStore()
	store.tasks["t1"] = storage.ContinuousTask{
		ID: "t1", AuthorURL: "url", Platform: downloader.PlatformYouTube,
		Status: storage.TaskStatusPaused, TotalVideos: 3, CurrentVideoIndex: 2, DownloadedCount: 2,
	}
	dl := &fakeLister{urls: []string{"u1", "u2", "u3"}}
	svc := newTestService(store, dl)

	if err := svc.ResumeTask(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, "t1", storage.TaskStatusCompleted)
	if done.DownloadedCount != 3 {
		t.Errorf("downloaded = %d, expected 3", done.DownloadedCount)
	}
	attempts := dl.attempted()
	if len(attempts) != 1 || attempts[0] != "u3" {
		t.Errorf("attempts = %v, expected only u3", attempts)
	}
}

func TestClearCompleted(t *testing.T) {
	store := newMemStore()
	store.tasks["done"] = storage.ContinuousTask{ID: "done", Status: storage.TaskStatusCompleted}
	store.tasks["dead"] = storage.ContinuousTask{ID: "dead", Status: storage.TaskStatusCancelled}
	store.tasks["live"] = storage.ContinuousTask{ID: "live", Status: storage.TaskStatusActive}
	svc := newTestService(store, &fakeLister{})

	removed, err := svc.ClearCompleted(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, expected 2", removed)
	}
	if _, ok := store.tasks["live"]; !ok {
		t.Error("active task was cleared")
	}
}
