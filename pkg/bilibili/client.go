package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/retry"
	"go.uber.org/zap"
)

const (
	viewAPI           = "https://api.bilibili.com/x/web-interface/view?bvid=%s"
	playerAPI         = "https://api.bilibili.com/x/player/wbi/v2?bvid=%s&cid=%d"
	seasonArchivesAPI = "https://api.bilibili.com/x/polymer/web-space/seasons_archives_list?mid=%d&season_id=%d&page_num=%d&page_size=%d"

	// CollectionPageSize is fixed by the listing API.
	CollectionPageSize = 30
)

var bvidRe = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)

// ExtractBVID pulls the BV identifier out of a video URL. Empty when the URL
// carries none.
func ExtractBVID(url string) string {
	return bvidRe.FindString(url)
}

// GetView fetches metadata for one video, parts list included.
func (c *Client) GetView(ctx context.Context, bvid string) (*ViewInfo, error) {
	res, err := retry.Retry(retry.NewAlgSimpleDefault(), 3, c.getViewOnce, ctx, bvid)
	if err != nil {
		zaplog.ErrorC(ctx, "view api failed", zap.String("bvid", bvid), zap.Error(err))
		return nil, err
	}
	return res[0].(*ViewInfo), nil
}

func (c *Client) getViewOnce(ctx context.Context, bvid string) (*ViewInfo, error) {
	var payload struct {
		apiEnvelope
		Data ViewInfo `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf(viewAPI, bvid), true, &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("view api returned code %d: %s", payload.Code, payload.Message)
	}
	return &payload.Data, nil
}

// CheckParts reports the number of parts a video is split into.
func (c *Client) CheckParts(ctx context.Context, bvid string) (int, error) {
	view, err := c.GetView(ctx, bvid)
	if err != nil {
		return 0, err
	}
	if len(view.Pages) == 0 {
		return 1, nil
	}
	return len(view.Pages), nil
}

// GetSeasonPage fetches one page of a collection listing.
func (c *Client) GetSeasonPage(ctx context.Context, mid, seasonID int64, pageNum int) (*SeasonPage, error) {
	res, err := retry.Retry(retry.NewAlgSimpleDefault(), 3, c.getSeasonPageOnce, ctx, mid, seasonID, pageNum)
	if err != nil {
		zaplog.ErrorC(ctx, "season archives api failed", zap.Int64("seasonID", seasonID), zap.Error(err))
		return nil, err
	}
	return res[0].(*SeasonPage), nil
}

func (c *Client) getSeasonPageOnce(ctx context.Context, mid, seasonID int64, pageNum int) (*SeasonPage, error) {
	var payload struct {
		apiEnvelope
		Data seasonArchivesPayload `json:"data"`
	}
	url := fmt.Sprintf(seasonArchivesAPI, mid, seasonID, pageNum, CollectionPageSize)
	if err := c.getJSON(ctx, url, true, &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("season archives api returned code %d: %s", payload.Code, payload.Message)
	}
	return &SeasonPage{
		Name:     payload.Data.Meta.Name,
		Archives: payload.Data.Archives,
		Total:    payload.Data.Page.Total,
	}, nil
}

// GetSubtitleTracks resolves the caption manifest for one video part.
func (c *Client) GetSubtitleTracks(ctx context.Context, bvid string, cid int64) ([]SubtitleTrack, error) {
	var payload struct {
		apiEnvelope
		Data playerPayload `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf(playerAPI, bvid, cid), true, &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("player api returned code %d: %s", payload.Code, payload.Message)
	}
	return payload.Data.Subtitle.Subtitles, nil
}

// FetchSubtitleFile downloads one caption track from the CDN. Cookies are
// deliberately omitted here.
func (c *Client) FetchSubtitleFile(ctx context.Context, subtitleURL string) ([]byte, error) {
	if strings.HasPrefix(subtitleURL, "//") {
		subtitleURL = "https:" + subtitleURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subtitleURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://www.bilibili.com")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subtitle file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subtitle cdn returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, url string, withCookie bool, out any) error {
	c.APILimiter.Acquire()
	defer c.APILimiter.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Referer", "https://www.bilibili.com")
	if withCookie && c.Cookie != "" {
		req.Header.Set("Cookie", c.Cookie)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode api response: %w", err)
	}
	return nil
}
