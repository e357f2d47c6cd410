package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/config"
	"github.com/mediakeep/mediakeep/internal"
	"github.com/mediakeep/mediakeep/internal/progress"
	"github.com/mediakeep/mediakeep/internal/storage"
	"github.com/mediakeep/mediakeep/internal/subtitles"
	"github.com/mediakeep/mediakeep/pkg/bilibili"
	"github.com/mediakeep/mediakeep/pkg/ytdlp"
	"go.uber.org/zap"
)

// Explicit H.264 preference: Bilibili serves AV1/HEVC first, which many
// players still refuse.
const bilibiliFormatSelector = "bestvideo[vcodec^=avc1]+bestaudio/best[vcodec^=avc1]/best"

// interItemDelay is the courtesy pause between sequential part/collection
// downloads.
const interItemDelay = 3 * time.Second

// BilibiliDownloader is the multi-stage implementation: single videos,
// multi-part series, whole collections, plus subtitle acquisition.
type BilibiliDownloader struct {
	Base
	API   BilibiliAPI
	YTDLP MediaFetcher
	Cfg   *config.Config
	// ItemDelay is the courtesy pause between sequential part/collection
	// downloads.
	ItemDelay time.Duration
}

func NewBilibiliDownloader(store Store, api BilibiliAPI, client MediaFetcher, cfg *config.Config) *BilibiliDownloader {
	return &BilibiliDownloader{
		Base:      NewBase(store),
		API:       api,
		YTDLP:     client,
		Cfg:       cfg,
		ItemDelay: interItemDelay,
	}
}

func (d *BilibiliDownloader) GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error) {
	if meta, err := d.YTDLP.DumpInfo(ctx, url); err == nil {
		return mergeInfoDefaults(&VideoInfo{
			Title:        meta.Title,
			Author:       meta.Uploader,
			UploadDate:   parseUploadDate(meta.UploadDate),
			ThumbnailURL: meta.Thumbnail,
			Description:  meta.Description,
			Duration:     int(meta.Duration),
		}), nil
	}
	bvid := bilibili.ExtractBVID(url)
	if bvid == "" {
		return fallbackInfo(), nil
	}
	view, err := d.API.GetView(ctx, bvid)
	if err != nil {
		zaplog.WarnC(ctx, "view api fallback failed", zap.String("bvid", bvid), zap.Error(err))
		return fallbackInfo(), nil
	}
	return mergeInfoDefaults(&VideoInfo{
		Title:        view.Title,
		Author:       view.Owner.Name,
		UploadDate:   time.Unix(view.Pubdate, 0),
		ThumbnailURL: view.Pic,
		Description:  view.Desc,
		Duration:     view.Duration,
	}), nil
}

// CheckParts reports how many parts the upload is split into.
func (d *BilibiliDownloader) CheckParts(ctx context.Context, url string) (int, error) {
	bvid := bilibili.ExtractBVID(url)
	if bvid == "" {
		return 0, fmt.Errorf("no video id in url: %s", url)
	}
	return d.API.CheckParts(ctx, bvid)
}

func (d *BilibiliDownloader) DownloadVideo(ctx context.Context, url string, opts Opts) (*DownloadResult, error) {
	video, err := d.downloadOne(ctx, url, opts, partSpec{})
	if err != nil {
		return nil, err
	}
	return &DownloadResult{Video: video}, nil
}

// partSpec distinguishes a standalone download from a series part. Series
// parts always insert a fresh record; standalone downloads update in place.
type partSpec struct {
	seriesTitle string
	partNumber  int
	totalParts  int
	partTitle   string
}

func (p partSpec) isPart() bool { return p.totalParts > 0 }

func (d *BilibiliDownloader) downloadOne(ctx context.Context, url string, opts Opts, part partSpec) (*storage.Video, error) {
	downloadID := opts.DownloadID
	if downloadID == "" {
		downloadID = uuid.NewString()
	}
	if err := internal.EnsureDir(d.Cfg.TempDir); err != nil {
		return nil, err
	}
	// Download under a generic temp name; the real title is probed after the
	// transfer.
	tempBase := filepath.Join(d.Cfg.TempDir, downloadID)
	tracker := progress.NewTracker(downloadID, d.Store)

	err := d.YTDLP.Download(ctx, url, ytdlp.DownloadOptions{
		OutputTemplate: tempBase + ".%(ext)s",
		FormatSelector: bilibiliFormatSelector,
		MergeFormat:    "mp4",
		OnStart:        opts.OnStart,
		OnOutputLine: func(line string) {
			tracker.ConsumeLine(ctx, line)
		},
	})
	if err != nil {
		return nil, d.HandleCancellationError(ctx, err, downloadID, func() {
			internal.RemovePartialFiles(tempBase + ".mp4")
		})
	}

	tempFile, err := internal.FindDownloadedFile(tempBase)
	if err != nil {
		return nil, fmt.Errorf("download finished but no output file: %w", err)
	}

	info, _ := d.GetVideoInfo(ctx, url)
	title := info.Title
	if part.isPart() && part.partTitle != "" {
		title = fmt.Sprintf("%s - P%02d %s", info.Title, part.partNumber, part.partTitle)
	}
	d.RefineTitle(downloadID, title)

	// Renaming happens only after confirming the transfer was not cancelled;
	// a late cancel deletes the partial instead.
	if err := d.CheckCancelled(downloadID); err != nil {
		internal.RemovePartialFiles(tempFile)
		return nil, err
	}

	if err := internal.EnsureDir(d.Cfg.SaveDir); err != nil {
		return nil, err
	}
	baseName := internal.MediaBaseName(title, info.Author, info.UploadDate)
	finalPath := filepath.Join(d.Cfg.SaveDir, baseName+filepath.Ext(tempFile))
	if err := os.Rename(tempFile, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move downloaded file: %w", err)
	}

	thumbPath := filepath.Join(d.Cfg.ThumbnailDir, baseName+".jpg")
	if !d.DownloadThumbnail(ctx, info.ThumbnailURL, thumbPath) {
		thumbPath = ""
	}
	subPath := d.fetchSubtitles(ctx, url, part.partNumber, baseName)

	return d.persistVideo(ctx, url, info, title, finalPath, thumbPath, subPath, part)
}

func (d *BilibiliDownloader) persistVideo(ctx context.Context, url string, info *VideoInfo, title, filePath, thumbPath, subPath string, part partSpec) (*storage.Video, error) {
	if !part.isPart() {
		existing, err := d.Store.GetVideoBySourceURL(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing video: %w", err)
		}
		if existing != nil {
			status := storage.VideoStatusAvailable
			patch := storage.VideoPatch{Title: &title, FilePath: &filePath, Status: &status}
			if thumbPath != "" {
				patch.ThumbnailPath = &thumbPath
			}
			if subPath != "" {
				patch.SubtitlePath = &subPath
			}
			if err := d.Store.UpdateVideo(ctx, existing.ID, patch); err != nil {
				return nil, err
			}
			existing.Title = title
			existing.FilePath = filePath
			existing.SubtitlePath = subPath
			existing.Status = status
			return existing, nil
		}
	}
	video := &storage.Video{
		Title:         title,
		Author:        info.Author,
		SourceURL:     url,
		Platform:      PlatformBilibili,
		FilePath:      filePath,
		ThumbnailPath: thumbPath,
		SubtitlePath:  subPath,
		Description:   info.Description,
		Duration:      info.Duration,
		UploadDate:    info.UploadDate,
		SeriesTitle:   part.seriesTitle,
		PartNumber:    part.partNumber,
		TotalParts:    part.totalParts,
	}
	if err := d.Store.SaveVideo(ctx, video); err != nil {
		return nil, err
	}
	return video, nil
}

// DownloadMultiPart downloads part 1 synchronously and returns immediately;
// parts 2..N continue as a detached background sequence. A failed part is
// logged and skipped, never aborting the rest.
func (d *BilibiliDownloader) DownloadMultiPart(ctx context.Context, url string, opts Opts) (*DownloadResult, error) {
	bvid := bilibili.ExtractBVID(url)
	if bvid == "" {
		return nil, fmt.Errorf("no video id in url: %s", url)
	}
	view, err := d.API.GetView(ctx, bvid)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parts: %w", err)
	}
	totalParts := len(view.Pages)
	if totalParts <= 1 {
		return d.DownloadVideo(ctx, url, opts)
	}

	collection, err := d.ensureCollection(ctx, view.Title)
	if err != nil {
		return nil, err
	}

	firstSpec := partSpec{seriesTitle: view.Title, partNumber: 1, totalParts: totalParts, partTitle: view.Pages[0].Part}
	firstVideo, err := d.downloadOne(ctx, partURL(bvid, 1), opts, firstSpec)
	if err != nil {
		return nil, err
	}
	d.appendToCollection(ctx, collection.ID, firstVideo.ID)

	// Detached: the caller's response has already been decided, so nothing
	// from here may reject it.
	go d.downloadRemainingParts(context.Background(), bvid, view, collection.ID)

	return &DownloadResult{
		Video:        firstVideo,
		IsMultiPart:  true,
		TotalParts:   totalParts,
		CollectionID: collection.ID,
	}, nil
}

func (d *BilibiliDownloader) downloadRemainingParts(ctx context.Context, bvid string, view *bilibili.ViewInfo, collectionID string) {
	for i := 1; i < len(view.Pages); i++ {
		time.Sleep(d.ItemDelay)
		page := view.Pages[i]
		spec := partSpec{seriesTitle: view.Title, partNumber: page.Page, totalParts: len(view.Pages), partTitle: page.Part}
		title := fmt.Sprintf("%s - P%02d %s", view.Title, page.Page, page.Part)
		video, err := d.downloadPart(ctx, partURL(bvid, page.Page), title, spec)
		if err != nil {
			zaplog.ErrorC(ctx, "part download failed, skipping",
				zap.String("bvid", bvid), zap.Int("part", page.Page), zap.Error(err))
			continue
		}
		d.appendToCollection(ctx, collectionID, video.ID)
	}
	zaplog.InfoC(ctx, "multi-part download sequence finished", zap.String("bvid", bvid))
}

// downloadPart runs one background item under its own registry record. The
// record must exist for the duration of the transfer; its absence reads as
// cancellation.
func (d *BilibiliDownloader) downloadPart(ctx context.Context, url, title string, spec partSpec) (*storage.Video, error) {
	downloadID := uuid.NewString()
	d.Store.AddActiveDownload(storage.ActiveDownloadRecord{
		ID:        downloadID,
		Title:     title,
		SourceURL: url,
		Type:      PlatformBilibili,
	})
	defer d.Store.RemoveActiveDownload(downloadID)
	return d.downloadOne(ctx, url, Opts{DownloadID: downloadID}, spec)
}

// DownloadCollection pages a season/collection listing until exhausted and
// downloads every item sequentially, tolerating per-item failure.
func (d *BilibiliDownloader) DownloadCollection(ctx context.Context, mid, seasonID int64, opts Opts) (*DownloadResult, error) {
	firstPage, err := d.API.GetSeasonPage(ctx, mid, seasonID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	name := firstPage.Name
	if name == "" {
		name = fmt.Sprintf("Collection %d", seasonID)
	}
	collection, err := d.ensureCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	archives := firstPage.Archives
	for pageNum := 2; len(archives) < firstPage.Total; pageNum++ {
		page, err := d.API.GetSeasonPage(ctx, mid, seasonID, pageNum)
		if err != nil {
			zaplog.ErrorC(ctx, "collection page fetch failed", zap.Int("page", pageNum), zap.Error(err))
			break
		}
		if len(page.Archives) == 0 {
			break
		}
		archives = append(archives, page.Archives...)
	}

	downloaded := 0
	for i, archive := range archives {
		if i > 0 {
			time.Sleep(d.ItemDelay)
		}
		itemURL := "https://www.bilibili.com/video/" + archive.BVID
		video, err := d.downloadPart(ctx, itemURL, archive.Title, partSpec{})
		if err != nil {
			zaplog.ErrorC(ctx, "collection item failed, continuing",
				zap.String("bvid", archive.BVID), zap.Error(err))
			continue
		}
		d.appendToCollection(ctx, collection.ID, video.ID)
		downloaded++
	}
	zaplog.InfoC(ctx, "collection download finished",
		zap.String("collection", name), zap.Int("downloaded", downloaded), zap.Int("total", len(archives)))

	return &DownloadResult{IsMultiPart: true, TotalParts: len(archives), CollectionID: collection.ID}, nil
}

func (d *BilibiliDownloader) ensureCollection(ctx context.Context, name string) (*storage.Collection, error) {
	existing, err := d.Store.GetCollectionByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up collection: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	collection := &storage.Collection{Name: name, VideoIDs: []string{}}
	if err := d.Store.SaveCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return collection, nil
}

func (d *BilibiliDownloader) appendToCollection(ctx context.Context, collectionID, videoID string) {
	err := d.Store.AtomicUpdateCollection(ctx, collectionID, func(c *storage.Collection) error {
		for _, id := range c.VideoIDs {
			if id == videoID {
				return nil
			}
		}
		c.VideoIDs = append(c.VideoIDs, videoID)
		return nil
	})
	if err != nil {
		zaplog.ErrorC(ctx, "failed to append video to collection",
			zap.String("collection", collectionID), zap.String("video", videoID), zap.Error(err))
	}
}

// fetchSubtitles resolves the caption manifest and converts each BCC track
// to WebVTT. Best-effort all the way down: any failure returns "".
func (d *BilibiliDownloader) fetchSubtitles(ctx context.Context, url string, partNumber int, baseName string) string {
	bvid := bilibili.ExtractBVID(url)
	if bvid == "" {
		return ""
	}
	view, err := d.API.GetView(ctx, bvid)
	if err != nil {
		zaplog.WarnC(ctx, "subtitle view lookup failed", zap.String("bvid", bvid), zap.Error(err))
		return ""
	}
	cid := view.CID
	for _, page := range view.Pages {
		if page.Page == partNumber {
			cid = page.CID
			break
		}
	}
	tracks, err := d.API.GetSubtitleTracks(ctx, bvid, cid)
	if err != nil || len(tracks) == 0 {
		return ""
	}
	raw, err := d.API.FetchSubtitleFile(ctx, tracks[0].SubtitleURL)
	if err != nil {
		zaplog.WarnC(ctx, "subtitle fetch failed", zap.String("bvid", bvid), zap.Error(err))
		return ""
	}
	vtt := subtitles.BCCToVTT(raw)
	if vtt == "" {
		return ""
	}
	if err := internal.EnsureDir(d.Cfg.SubtitleDir); err != nil {
		return ""
	}
	subPath := filepath.Join(d.Cfg.SubtitleDir, baseName+".vtt")
	if err := os.WriteFile(subPath, []byte(vtt), 0644); err != nil {
		zaplog.WarnC(ctx, "subtitle write failed", zap.String("path", subPath), zap.Error(err))
		return ""
	}
	return subPath
}

func partURL(bvid string, part int) string {
	if part <= 1 {
		return "https://www.bilibili.com/video/" + bvid
	}
	return fmt.Sprintf("https://www.bilibili.com/video/%s?p=%d", bvid, part)
}
