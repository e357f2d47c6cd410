package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVideoDedupBySourceURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := &Video{Title: "First", SourceURL: "https://example.com/v/1", Platform: "youtube"}
	if err := store.SaveVideo(ctx, video); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetVideoBySourceURL(ctx, "https://example.com/v/1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != video.ID {
		t.Fatalf("lookup by source url failed: %+v", got)
	}

	// Second save of the same standalone URL violates the unique index.
	dup := &Video{Title: "Second", SourceURL: "https://example.com/v/1", Platform: "youtube"}
	if err := store.SaveVideo(ctx, dup); err == nil {
		t.Error("expected unique constraint error for duplicate standalone source url")
	}

	// Multi-part rows may share a source url.
	for part := 1; part <= 2; part++ {
		p := &Video{Title: "Part", SourceURL: "https://example.com/v/2", Platform: "bilibili",
			SeriesTitle: "Series", PartNumber: part, TotalParts: 2}
		if err := store.SaveVideo(ctx, p); err != nil {
			t.Fatalf("part %d: %v", part, err)
		}
	}
	parts, err := store.GetVideosBySourceURL(ctx, "https://example.com/v/2")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Errorf("expected 2 part rows, got %d", len(parts))
	}
}

func TestUpdateVideoPatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := &Video{Title: "Old", SourceURL: "https://example.com/v/3", Platform: "youtube"}
	if err := store.SaveVideo(ctx, video); err != nil {
		t.Fatal(err)
	}
	newTitle := "New"
	subPath := "/subs/v3.vtt"
	if err := store.UpdateVideo(ctx, video.ID, VideoPatch{Title: &newTitle, SubtitlePath: &subPath}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetVideoByID(ctx, video.ID)
	if got.Title != "New" || got.SubtitlePath != "/subs/v3.vtt" {
		t.Errorf("patch not applied: %+v", got)
	}
}

func TestMarkSourceAvailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := &Video{Title: "Gone", SourceURL: "https://example.com/v/4", Platform: "bilibili", Status: VideoStatusDeleted}
	if err := store.SaveVideo(ctx, video); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSourceAvailable(ctx, "https://example.com/v/4"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetVideoByID(ctx, video.ID)
	if got.Status != VideoStatusAvailable {
		t.Errorf("status = %q, expected available", got.Status)
	}
}

func TestAtomicUpdateCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	collection := &Collection{Name: "Series A", VideoIDs: []string{"a"}}
	if err := store.SaveCollection(ctx, collection); err != nil {
		t.Fatal(err)
	}
	err := store.AtomicUpdateCollection(ctx, collection.ID, func(c *Collection) error {
		c.VideoIDs = append(c.VideoIDs, "b")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetCollectionByID(ctx, collection.ID)
	if len(got.VideoIDs) != 2 || got.VideoIDs[1] != "b" {
		t.Errorf("atomic update lost writes: %+v", got.VideoIDs)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub := &Subscription{Author: "Someone", AuthorURL: "https://example.com/c/1", Platform: "youtube", Interval: 30}
	if err := store.SaveSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	byURL, err := store.GetSubscriptionByAuthorURL(ctx, sub.AuthorURL)
	if err != nil || byURL == nil {
		t.Fatalf("lookup failed: %v %v", byURL, err)
	}

	sub.LastVideoLink = "https://example.com/v/9"
	sub.DownloadCount = 1
	sub.LastCheck = time.Now()
	if err := store.SaveSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetSubscriptionByID(ctx, sub.ID)
	if got.LastVideoLink != sub.LastVideoLink || got.DownloadCount != 1 {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := store.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetSubscriptionByID(ctx, sub.ID)
	if got != nil {
		t.Error("subscription still present after delete")
	}
	// Deleting again stays clean.
	if err := store.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestQueuePersistenceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"q1", "q2", "q3"} {
		item := &QueuedDownload{ID: id, Title: "t-" + id, SourceURL: "u-" + id, Type: "youtube", Position: i}
		if err := store.SaveQueuedDownload(ctx, item); err != nil {
			t.Fatal(err)
		}
	}
	items, err := store.GetQueuedDownloads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].ID != "q1" || items[2].ID != "q3" {
		t.Fatalf("queue order wrong: %+v", items)
	}

	if err := store.RemoveQueuedDownload(ctx, "q2"); err != nil {
		t.Fatal(err)
	}
	items, _ = store.GetQueuedDownloads(ctx)
	if len(items) != 2 {
		t.Errorf("expected 2 items after removal, got %d", len(items))
	}
}

func TestActiveRegistry(t *testing.T) {
	store := newTestStore(t)

	store.AddActiveDownload(ActiveDownloadRecord{ID: "dl-1", Title: "one", Type: "youtube"})
	if !store.IsDownloadActive("dl-1") {
		t.Fatal("record should be active")
	}

	store.UpdateActiveDownload("dl-1", func(r *ActiveDownloadRecord) {
		r.Progress = 42.5
		r.Speed = "1 MiB/s"
	})
	got, ok := store.GetActiveDownload("dl-1")
	if !ok || got.Progress != 42.5 {
		t.Errorf("update lost: %+v", got)
	}

	store.RemoveActiveDownload("dl-1")
	if store.IsDownloadActive("dl-1") {
		t.Error("record should be gone after removal")
	}
	// Updates after removal are dropped, not resurrected.
	store.UpdateActiveDownload("dl-1", func(r *ActiveDownloadRecord) { r.Progress = 99 })
	if store.IsDownloadActive("dl-1") {
		t.Error("update resurrected a removed record")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.GetMaxConcurrentDownloads(ctx)
	if err != nil || n != 0 {
		t.Fatalf("unset setting: n=%d err=%v", n, err)
	}
	if err := store.SaveMaxConcurrentDownloads(ctx, 5); err != nil {
		t.Fatal(err)
	}
	n, _ = store.GetMaxConcurrentDownloads(ctx)
	if n != 5 {
		t.Errorf("setting = %d, expected 5", n)
	}
}

func TestContinuousTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &ContinuousTask{AuthorURL: "https://example.com/c/2", Author: "A", Platform: "youtube", Status: TaskStatusActive}
	if err := store.SaveContinuousTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	task.CurrentVideoIndex = 7
	task.DownloadedCount = 5
	task.SkippedCount = 1
	task.FailedCount = 1
	if err := store.SaveContinuousTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetContinuousTask(ctx, task.ID)
	if got.CurrentVideoIndex != 7 || got.DownloadedCount != 5 {
		t.Errorf("counters not persisted: %+v", got)
	}

	got.Status = TaskStatusCompleted
	if err := store.SaveContinuousTask(ctx, got); err != nil {
		t.Fatal(err)
	}
	deleted, err := store.DeleteCompletedContinuousTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, expected 1", deleted)
	}
}
