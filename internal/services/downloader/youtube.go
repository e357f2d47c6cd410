package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	kkdai "github.com/kkdai/youtube/v2"
	"github.com/mediakeep/mediakeep/config"
	"github.com/mediakeep/mediakeep/internal"
	"github.com/mediakeep/mediakeep/internal/progress"
	"github.com/mediakeep/mediakeep/internal/storage"
	"github.com/mediakeep/mediakeep/pkg/ytdlp"
	"go.uber.org/zap"
)

// Format selection tuned for playback compatibility: mp4 video + m4a audio
// merged into mp4, falling back to whatever single file plays widest.
const youtubeFormatSelector = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

const listPageSize = 100

// YouTubeDownloader wraps the generic command-line extractor. It is the
// default implementation for any URL no other platform claims.
type YouTubeDownloader struct {
	Base
	YTDLP MediaFetcher
	Cfg   *config.Config
	// InfoFallback resolves metadata through the YouTube innertube API when
	// the extractor's JSON mode fails.
	InfoFallback *kkdai.Client
}

func NewYouTubeDownloader(store Store, client MediaFetcher, cfg *config.Config) *YouTubeDownloader {
	return &YouTubeDownloader{
		Base:         NewBase(store),
		YTDLP:        client,
		Cfg:          cfg,
		InfoFallback: &kkdai.Client{},
	}
}

func (d *YouTubeDownloader) GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error) {
	meta, err := d.YTDLP.DumpInfo(ctx, url)
	if err == nil {
		author := meta.Uploader
		if author == "" {
			author = meta.Channel
		}
		return mergeInfoDefaults(&VideoInfo{
			Title:        meta.Title,
			Author:       author,
			UploadDate:   parseUploadDate(meta.UploadDate),
			ThumbnailURL: meta.Thumbnail,
			Description:  meta.Description,
			Duration:     int(meta.Duration),
		}), nil
	}
	zaplog.WarnC(ctx, "dump-json failed, trying innertube fallback", zap.String("url", url), zap.Error(err))

	if video, ferr := d.InfoFallback.GetVideoContext(ctx, url); ferr == nil {
		info := &VideoInfo{
			Title:       video.Title,
			Author:      video.Author,
			UploadDate:  video.PublishDate,
			Description: video.Description,
			Duration:    int(video.Duration.Seconds()),
		}
		if len(video.Thumbnails) > 0 {
			info.ThumbnailURL = video.Thumbnails[len(video.Thumbnails)-1].URL
		}
		return mergeInfoDefaults(info), nil
	}
	return fallbackInfo(), nil
}

func (d *YouTubeDownloader) DownloadVideo(ctx context.Context, url string, opts Opts) (*DownloadResult, error) {
	downloadID := opts.DownloadID
	if downloadID == "" {
		downloadID = uuid.NewString()
	}
	if err := internal.EnsureDir(d.Cfg.TempDir); err != nil {
		return nil, err
	}
	tempBase := filepath.Join(d.Cfg.TempDir, downloadID)
	tracker := progress.NewTracker(downloadID, d.Store)

	err := d.YTDLP.Download(ctx, url, ytdlp.DownloadOptions{
		OutputTemplate: tempBase + ".%(ext)s",
		FormatSelector: youtubeFormatSelector,
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
	if err := d.CheckCancelled(downloadID); err != nil {
		internal.RemovePartialFiles(tempBase + ".mp4")
		return nil, err
	}

	tempFile, err := internal.FindDownloadedFile(tempBase)
	if err != nil {
		return nil, fmt.Errorf("download finished but no output file: %w", err)
	}

	info, _ := d.GetVideoInfo(ctx, url)
	d.RefineTitle(downloadID, info.Title)

	// Renaming happens only after confirming the transfer was not cancelled
	// while metadata was being resolved; a late cancel deletes the partial.
	if err := d.CheckCancelled(downloadID); err != nil {
		internal.RemovePartialFiles(tempFile)
		return nil, err
	}

	if err := internal.EnsureDir(d.Cfg.SaveDir); err != nil {
		return nil, err
	}
	baseName := internal.MediaBaseName(info.Title, info.Author, info.UploadDate)
	finalPath := filepath.Join(d.Cfg.SaveDir, baseName+filepath.Ext(tempFile))
	if err := os.Rename(tempFile, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move downloaded file: %w", err)
	}

	thumbPath := filepath.Join(d.Cfg.ThumbnailDir, baseName+".jpg")
	if !d.DownloadThumbnail(ctx, info.ThumbnailURL, thumbPath) {
		thumbPath = ""
	}

	video, err := d.persistVideo(ctx, url, info, finalPath, thumbPath)
	if err != nil {
		return nil, err
	}
	return &DownloadResult{Video: video}, nil
}

// persistVideo enforces sourceUrl dedup: a re-download updates the existing
// record's file fields in place.
func (d *YouTubeDownloader) persistVideo(ctx context.Context, url string, info *VideoInfo, filePath, thumbPath string) (*storage.Video, error) {
	existing, err := d.Store.GetVideoBySourceURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing video: %w", err)
	}
	if existing != nil {
		status := storage.VideoStatusAvailable
		patch := storage.VideoPatch{
			Title:    &info.Title,
			FilePath: &filePath,
			Status:   &status,
		}
		if thumbPath != "" {
			patch.ThumbnailPath = &thumbPath
		}
		if err := d.Store.UpdateVideo(ctx, existing.ID, patch); err != nil {
			return nil, err
		}
		existing.Title = info.Title
		existing.FilePath = filePath
		if thumbPath != "" {
			existing.ThumbnailPath = thumbPath
		}
		existing.Status = status
		return existing, nil
	}
	video := &storage.Video{
		Title:         info.Title,
		Author:        info.Author,
		SourceURL:     url,
		Platform:      PlatformYouTube,
		FilePath:      filePath,
		ThumbnailPath: thumbPath,
		Description:   info.Description,
		Duration:      info.Duration,
		UploadDate:    info.UploadDate,
	}
	if err := d.Store.SaveVideo(ctx, video); err != nil {
		return nil, err
	}
	return video, nil
}

func (d *YouTubeDownloader) Search(ctx context.Context, query string, limit, offset int) ([]SearchResult, error) {
	entries, err := d.YTDLP.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	results := make([]SearchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, SearchResult{ID: entry.ID, URL: entry.URL, Title: entry.Title})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetLatestVideoURL lists the channel's videos tab flat and returns the
// first real entry. Channel listings occasionally surface the channel's own
// internal id as a false first entry, which must be filtered.
func (d *YouTubeDownloader) GetLatestVideoURL(ctx context.Context, channelURL string) (string, error) {
	entries, err := d.YTDLP.FlatPlaylist(ctx, videosTabURL(channelURL), 1, 5)
	if err != nil {
		return "", fmt.Errorf("failed to list channel videos: %w", err)
	}
	for _, entry := range entries {
		if isChannelID(entry.ID) {
			continue
		}
		if entry.URL != "" {
			return entry.URL, nil
		}
		return "https://www.youtube.com/watch?v=" + entry.ID, nil
	}
	return "", fmt.Errorf("channel listing returned no videos")
}

// ListAllVideoURLs pages the flat listing 100 entries at a time until a
// short page signals the end.
func (d *YouTubeDownloader) ListAllVideoURLs(ctx context.Context, authorURL string) ([]string, error) {
	var urls []string
	listURL := videosTabURL(authorURL)
	for page := 0; ; page++ {
		start := page*listPageSize + 1
		end := (page + 1) * listPageSize
		entries, err := d.YTDLP.FlatPlaylist(ctx, listURL, start, end)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("failed to enumerate channel: %w", err)
			}
			break
		}
		for _, entry := range entries {
			if isChannelID(entry.ID) {
				continue
			}
			if entry.URL != "" {
				urls = append(urls, entry.URL)
			} else {
				urls = append(urls, "https://www.youtube.com/watch?v="+entry.ID)
			}
		}
		if len(entries) < listPageSize {
			break
		}
	}
	return urls, nil
}

func videosTabURL(channelURL string) string {
	trimmed := strings.TrimSuffix(channelURL, "/")
	// Playlist URLs enumerate as-is; only channel pages need the videos tab.
	if strings.Contains(trimmed, "playlist?") || strings.Contains(trimmed, "list=") {
		return trimmed
	}
	if strings.HasSuffix(trimmed, "/videos") {
		return trimmed
	}
	return trimmed + "/videos"
}

// isChannelID recognizes YouTube's internal channel identifiers (UC-prefixed,
// 24 chars) that flat listings sometimes emit as a bogus first entry.
func isChannelID(id string) bool {
	return len(id) == 24 && strings.HasPrefix(id, "UC")
}
