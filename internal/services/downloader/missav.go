package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/config"
	"github.com/mediakeep/mediakeep/internal"
	"github.com/mediakeep/mediakeep/internal/progress"
	"github.com/mediakeep/mediakeep/internal/storage"
	"github.com/mediakeep/mediakeep/pkg/browser"
	"github.com/mediakeep/mediakeep/pkg/ytdlp"
	"go.uber.org/zap"
)

const missavUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36"

// MissAVDownloader drives a headless browser: the site requires JS rendering
// and exposes no extractor support, so the stream manifest has to be sniffed
// off the wire.
type MissAVDownloader struct {
	Base
	Launcher *browser.Launcher
	YTDLP    MediaFetcher
	Cfg      *config.Config
}

func NewMissAVDownloader(store Store, launcher *browser.Launcher, client MediaFetcher, cfg *config.Config) *MissAVDownloader {
	return &MissAVDownloader{
		Base:     NewBase(store),
		Launcher: launcher,
		YTDLP:    client,
		Cfg:      cfg,
	}
}

// GetVideoInfo scrapes page meta tags; there is no API.
func (d *MissAVDownloader) GetVideoInfo(ctx context.Context, pageURL string) (*VideoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fallbackInfo(), nil
	}
	req.Header.Set("User-Agent", missavUserAgent)
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		zaplog.WarnC(ctx, "page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return fallbackInfo(), nil
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fallbackInfo(), nil
	}
	info := &VideoInfo{}
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		info.Title = title
	} else {
		info.Title = strings.TrimSpace(doc.Find("title").Text())
	}
	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		info.ThumbnailURL = image
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		info.Description = desc
	}
	return mergeInfoDefaults(info), nil
}

func (d *MissAVDownloader) DownloadVideo(ctx context.Context, pageURL string, opts Opts) (*DownloadResult, error) {
	downloadID := opts.DownloadID
	if downloadID == "" {
		downloadID = uuid.NewString()
	}

	capture, err := d.Launcher.CapturePage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	if err := d.CheckCancelled(downloadID); err != nil {
		return nil, err
	}

	manifestURL := PickManifestURL(capture.RequestURLs)
	if manifestURL == "" {
		manifestURL = d.reconstructManifestURL(ctx, capture.HTML)
	}
	if manifestURL == "" {
		return nil, fmt.Errorf("no stream manifest found on page %s", pageURL)
	}
	zaplog.InfoC(ctx, "stream manifest resolved", zap.String("manifest", manifestURL))

	if err := internal.EnsureDir(d.Cfg.TempDir); err != nil {
		return nil, err
	}
	tempBase := filepath.Join(d.Cfg.TempDir, downloadID)
	tracker := progress.NewTracker(downloadID, d.Store)

	// Hotlink-protected CDNs insist on a Referer/UA pair matching the source
	// site.
	err = d.YTDLP.Download(ctx, manifestURL, ytdlp.DownloadOptions{
		OutputTemplate: tempBase + ".mp4",
		Referer:        refererFor(pageURL),
		UserAgent:      missavUserAgent,
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

	info, _ := d.GetVideoInfo(ctx, pageURL)
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

	existing, err := d.Store.GetVideoBySourceURL(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing video: %w", err)
	}
	if existing != nil {
		status := storage.VideoStatusAvailable
		patch := storage.VideoPatch{Title: &info.Title, FilePath: &finalPath, Status: &status}
		if thumbPath != "" {
			patch.ThumbnailPath = &thumbPath
		}
		if err := d.Store.UpdateVideo(ctx, existing.ID, patch); err != nil {
			return nil, err
		}
		existing.FilePath = finalPath
		return &DownloadResult{Video: existing}, nil
	}
	video := &storage.Video{
		Title:         info.Title,
		Author:        info.Author,
		SourceURL:     pageURL,
		Platform:      PlatformMissAV,
		FilePath:      finalPath,
		ThumbnailPath: thumbPath,
		Description:   info.Description,
		UploadDate:    info.UploadDate,
	}
	if err := d.Store.SaveVideo(ctx, video); err != nil {
		return nil, err
	}
	return &DownloadResult{Video: video}, nil
}

var resolutionRe = regexp.MustCompile(`(\d{3,4})p`)

// PickManifestURL selects the best manifest out of sniffed request URLs:
// quality-specific manifests beat master playlists, higher resolution beats
// lower.
func PickManifestURL(requestURLs []string) string {
	var master string
	best := ""
	bestRes := -1
	for _, u := range requestURLs {
		if !strings.Contains(u, ".m3u8") {
			continue
		}
		m := resolutionRe.FindStringSubmatch(u)
		if m == nil {
			if master == "" {
				master = u
			}
			continue
		}
		res, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if res > bestRes {
			bestRes = res
			best = u
		}
	}
	if best != "" {
		return best
	}
	return master
}

// Page sources embed the stream UUID split across obfuscated string parts.
var manifestTokenRe = regexp.MustCompile(`m3u8\|([a-zA-Z0-9\|]+)\|com\|surrit`)

// reconstructManifestURL is the last-resort strategy when network sniffing
// yields nothing. It is brittle regex work against obfuscated page source;
// log loudly so upstream page changes are observable, not silent.
func (d *MissAVDownloader) reconstructManifestURL(ctx context.Context, html string) string {
	zaplog.WarnC(ctx, "manifest sniffing found nothing, falling back to page-source reconstruction")
	m := manifestTokenRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	tokens := strings.Split(m[1], "|")
	if len(tokens) < 5 {
		return ""
	}
	// Tokens appear reversed relative to their position in the UUID.
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}
	streamID := strings.Join(tokens[:5], "-")
	reconstructed := fmt.Sprintf("https://surrit.com/%s/playlist.m3u8", streamID)
	zaplog.WarnC(ctx, "reconstructed manifest url from page tokens", zap.String("manifest", reconstructed))
	return reconstructed
}

func refererFor(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return pageURL
	}
	return parsed.Scheme + "://" + parsed.Host + "/"
}
