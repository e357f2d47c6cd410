package downloader

import (
	"context"
	"strings"
	"time"

	"github.com/mediakeep/mediakeep/internal/progress"
	"github.com/mediakeep/mediakeep/internal/storage"
	"github.com/mediakeep/mediakeep/pkg/bilibili"
	"github.com/mediakeep/mediakeep/pkg/ytdlp"
)

// Platform tags. The queue persists these with queued tasks and uses them to
// pick the right implementation on restart.
const (
	PlatformYouTube  = "youtube"
	PlatformBilibili = "bilibili"
	PlatformMissAV   = "missav"
)

// DetectPlatform classifies a URL by shape. YouTube is the fallback for
// anything the generic extractor can plausibly handle.
func DetectPlatform(url string) string {
	switch {
	case strings.Contains(url, "bilibili.com"), strings.Contains(url, "b23.tv"):
		return PlatformBilibili
	case strings.Contains(url, "missav"):
		return PlatformMissAV
	default:
		return PlatformYouTube
	}
}

// VideoInfo is the read-only metadata surface. Implementations fill gaps with
// placeholders instead of failing.
type VideoInfo struct {
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	UploadDate   time.Time `json:"upload_date"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Description  string    `json:"description,omitempty"`
	Duration     int       `json:"duration,omitempty"`
}

const (
	UnknownAuthor = "Unknown Author"
	UnknownTitle  = "Unknown Title"
)

// DownloadResult is what a completed DownloadVideo hands back to the queue.
type DownloadResult struct {
	Video        *storage.Video `json:"video,omitempty"`
	IsMultiPart  bool           `json:"is_multi_part,omitempty"`
	TotalParts   int            `json:"total_parts,omitempty"`
	CollectionID string         `json:"collection_id,omitempty"`
}

// Opts carries per-download wiring. OnStart runs synchronously once the
// underlying process or handle exists; the function it receives kills that
// handle.
type Opts struct {
	DownloadID string
	OnStart    func(cancel func())
}

// Downloader is the uniform capability surface. Orchestration code never
// branches on platform beyond selecting an implementation.
type Downloader interface {
	GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error)
	DownloadVideo(ctx context.Context, url string, opts Opts) (*DownloadResult, error)
}

// LatestVideoProvider is the optional capability the subscription checker
// needs.
type LatestVideoProvider interface {
	GetLatestVideoURL(ctx context.Context, channelURL string) (string, error)
}

// VideoLister enumerates every video of an author/channel without
// downloading. The continuous-download engine pages through this.
type VideoLister interface {
	ListAllVideoURLs(ctx context.Context, authorURL string) ([]string, error)
}

type SearchResult struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Searcher interface {
	Search(ctx context.Context, query string, limit, offset int) ([]SearchResult, error)
}

// MediaFetcher is the extractor surface the downloaders drive. The real
// implementation shells out to yt-dlp.
type MediaFetcher interface {
	DumpInfo(ctx context.Context, url string) (*ytdlp.VideoMetadata, error)
	Download(ctx context.Context, url string, opts ytdlp.DownloadOptions) error
	FlatPlaylist(ctx context.Context, url string, start, end int) ([]ytdlp.FlatEntry, error)
	Search(ctx context.Context, query string, limit, offset int) ([]ytdlp.FlatEntry, error)
}

// BilibiliAPI is the slice of the REST client the bilibili downloader needs.
type BilibiliAPI interface {
	GetView(ctx context.Context, bvid string) (*bilibili.ViewInfo, error)
	CheckParts(ctx context.Context, bvid string) (int, error)
	GetSeasonPage(ctx context.Context, mid, seasonID int64, pageNum int) (*bilibili.SeasonPage, error)
	GetSubtitleTracks(ctx context.Context, bvid string, cid int64) ([]bilibili.SubtitleTrack, error)
	FetchSubtitleFile(ctx context.Context, subtitleURL string) ([]byte, error)
}

// Store is the slice of the storage layer downloaders are allowed to touch.
// They read activity state and request mutations; they never hold registry
// references.
type Store interface {
	GetVideoBySourceURL(ctx context.Context, sourceURL string) (*storage.Video, error)
	SaveVideo(ctx context.Context, video *storage.Video) error
	UpdateVideo(ctx context.Context, id string, patch storage.VideoPatch) error
	GetCollectionByName(ctx context.Context, name string) (*storage.Collection, error)
	SaveCollection(ctx context.Context, collection *storage.Collection) error
	AtomicUpdateCollection(ctx context.Context, id string, update func(*storage.Collection) error) error
	AddActiveDownload(record storage.ActiveDownloadRecord)
	RemoveActiveDownload(id string)
	IsDownloadActive(id string) bool
	UpdateActiveDownload(id string, update func(*storage.ActiveDownloadRecord))
	PublishProgress(id string, info progress.ProgressInfo)
}
