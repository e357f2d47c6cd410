package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/internal/apperrors"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/storage"
	"go.uber.org/zap"
)

const defaultIntervalMinutes = 60

// channelURLShapes lists the URL prefixes each platform accepts as a
// subscribable channel. Anything else is rejected up front rather than
// failing on the first poll.
var channelURLShapes = map[string][]string{
	downloader.PlatformYouTube: {
		"youtube.com/@",
		"youtube.com/channel/",
		"youtube.com/c/",
		"youtube.com/user/",
	},
	downloader.PlatformBilibili: {
		"space.bilibili.com/",
	},
}

// Subscribe registers a channel for periodic new-video polling. The author
// name is resolved best-effort; a lookup failure falls back to a name
// derived from the URL and never fails the subscription.
func (s *Service) Subscribe(ctx context.Context, channelURL string, intervalMinutes int) (*storage.Subscription, error) {
	channelURL = strings.TrimSpace(channelURL)
	if channelURL == "" {
		return nil, apperrors.NewValidationError("channel url is required")
	}
	platform := downloader.DetectPlatform(channelURL)
	if !matchesChannelShape(platform, channelURL) {
		return nil, apperrors.NewValidationError("unrecognized channel url: %s", channelURL)
	}
	dl, ok := s.Downloaders[platform]
	if !ok {
		return nil, apperrors.NewValidationError("unsupported platform: %s", platform)
	}
	provider, ok := dl.(downloader.LatestVideoProvider)
	if !ok {
		return nil, apperrors.NewValidationError("platform %s does not support subscriptions", platform)
	}

	existing, err := s.Store.GetSubscriptionByAuthorURL(ctx, channelURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing subscription: %w", err)
	}
	if existing != nil {
		return nil, apperrors.NewDuplicateError("already subscribed to %s", channelURL)
	}

	if intervalMinutes <= 0 {
		intervalMinutes = defaultIntervalMinutes
	}
	sub := &storage.Subscription{
		ID:        uuid.NewString(),
		Author:    s.resolveAuthor(ctx, dl, provider, channelURL),
		AuthorURL: channelURL,
		Platform:  platform,
		Interval:  intervalMinutes,
	}
	if err := s.Store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	zaplog.InfoC(ctx, "subscription created",
		zap.String("id", sub.ID), zap.String("author", sub.Author), zap.Int("interval_minutes", intervalMinutes))
	return sub, nil
}

func matchesChannelShape(platform, url string) bool {
	for _, shape := range channelURLShapes[platform] {
		if strings.Contains(url, shape) {
			return true
		}
	}
	return false
}

// resolveAuthor asks the platform for the newest video's uploader. Any
// failure along the way degrades to a name cut out of the URL itself.
func (s *Service) resolveAuthor(ctx context.Context, dl downloader.Downloader, provider downloader.LatestVideoProvider, channelURL string) string {
	latest, err := provider.GetLatestVideoURL(ctx, channelURL)
	if err == nil && latest != "" {
		if info, infoErr := dl.GetVideoInfo(ctx, latest); infoErr == nil &&
			info.Author != "" && info.Author != downloader.UnknownAuthor {
			return info.Author
		}
	}
	zaplog.WarnC(ctx, "could not resolve author name, deriving from url",
		zap.String("channel_url", channelURL), zap.Error(err))
	return authorFromURL(channelURL)
}

// authorFromURL takes the last meaningful path segment as the display name.
func authorFromURL(channelURL string) string {
	trimmed := strings.TrimSuffix(channelURL, "/")
	segments := strings.Split(trimmed, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" || seg == "videos" || seg == "featured" {
			continue
		}
		return strings.TrimPrefix(seg, "@")
	}
	return channelURL
}

// Unsubscribe removes a subscription. Deleting an id that is already gone
// succeeds; a row that survives its own delete is reported.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	if err := s.Store.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	remaining, err := s.Store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to verify subscription removal: %w", err)
	}
	if remaining != nil {
		return fmt.Errorf("subscription %s still present after delete", id)
	}
	return nil
}

func (s *Service) GetSubscriptions(ctx context.Context) ([]*storage.Subscription, error) {
	return s.Store.GetSubscriptions(ctx)
}

// CheckSubscriptions is invoked every minute by the scheduler loop. Each due
// subscription gets one latest-video probe.
func (s *Service) CheckSubscriptions(ctx context.Context) {
	subs, err := s.Store.GetSubscriptions(ctx)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to list subscriptions", zap.Error(err))
		return
	}
	now := time.Now()
	for _, sub := range subs {
		// The list can go stale mid-iteration when the user unsubscribes.
		current, err := s.Store.GetSubscriptionByID(ctx, sub.ID)
		if err != nil || current == nil {
			continue
		}
		if !current.LastCheck.IsZero() && now.Sub(current.LastCheck) < time.Duration(current.Interval)*time.Minute {
			continue
		}
		s.checkOne(ctx, current)
	}
}

// CheckNow forces an immediate probe of one subscription regardless of its
// interval.
func (s *Service) CheckNow(ctx context.Context, id string) error {
	sub, err := s.Store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return apperrors.NewNotFoundError("subscription not found: %s", id)
	}
	s.checkOne(ctx, sub)
	return nil
}

// checkOne probes for a new latest video and downloads it when found. The
// link only advances together with a successful download, so a failed
// download is retried on the next interval instead of being counted as seen.
func (s *Service) checkOne(ctx context.Context, sub *storage.Subscription) {
	sub.LastCheck = time.Now()

	dl, ok := s.Downloaders[sub.Platform]
	if !ok {
		zaplog.ErrorC(ctx, "subscription references unknown platform",
			zap.String("id", sub.ID), zap.String("platform", sub.Platform))
		s.save(ctx, sub)
		return
	}
	provider, ok := dl.(downloader.LatestVideoProvider)
	if !ok {
		s.save(ctx, sub)
		return
	}

	latest, err := provider.GetLatestVideoURL(ctx, sub.AuthorURL)
	if err != nil {
		zaplog.WarnC(ctx, "latest-video probe failed",
			zap.String("id", sub.ID), zap.String("author", sub.Author), zap.Error(err))
		s.save(ctx, sub)
		return
	}
	if latest == "" || latest == sub.LastVideoLink {
		s.save(ctx, sub)
		return
	}

	zaplog.InfoC(ctx, "new video detected",
		zap.String("author", sub.Author), zap.String("url", latest))
	downloadID := uuid.NewString()
	work := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		return dl.DownloadVideo(ctx, latest, downloader.Opts{DownloadID: downloadID, OnStart: registerCancel})
	}
	outcome := <-s.Queue.AddDownload(ctx, work, downloadID, sub.Author, latest, sub.Platform)
	if outcome.Err != nil {
		zaplog.ErrorC(ctx, "subscription download failed, will retry next interval",
			zap.String("author", sub.Author), zap.String("url", latest), zap.Error(outcome.Err))
		s.save(ctx, sub)
		return
	}
	sub.LastVideoLink = latest
	sub.DownloadCount++
	s.save(ctx, sub)
}

func (s *Service) save(ctx context.Context, sub *storage.Subscription) {
	if err := s.Store.SaveSubscription(ctx, sub); err != nil {
		zaplog.ErrorC(ctx, "failed to persist subscription state", zap.String("id", sub.ID), zap.Error(err))
	}
}
