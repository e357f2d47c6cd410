package bilibili

import (
	"net/http"
	"time"

	"github.com/gcottom/semaphore"
)

// Client talks to the Bilibili public REST APIs. API requests carry the
// session cookie; CDN requests (subtitle files) must not — some CDNs answer
// 400 when cookies are present.
type Client struct {
	HTTPClient *http.Client
	Cookie     string
	// APILimiter bounds concurrent API calls so batch flows stay polite.
	APILimiter *semaphore.Semaphore
}

func NewClient(cookie string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Cookie:     cookie,
		APILimiter: semaphore.NewSemaphore(4),
	}
}

type apiEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ViewInfo is the x/web-interface/view payload subset.
type ViewInfo struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Pic      string `json:"pic"`
	Desc     string `json:"desc"`
	Pubdate  int64  `json:"pubdate"`
	Duration int    `json:"duration"`
	Owner    struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	Pages    []Page `json:"pages"`
	SeasonID int64  `json:"season_id"`
}

// Page is one part of a multi-part upload.
type Page struct {
	CID  int64  `json:"cid"`
	Page int    `json:"page"`
	Part string `json:"part"`
}

// SeasonArchive is one entry of a collection/season listing.
type SeasonArchive struct {
	BVID  string `json:"bvid"`
	Title string `json:"title"`
}

type seasonArchivesPayload struct {
	Archives []SeasonArchive `json:"archives"`
	Page     struct {
		PageNum  int `json:"page_num"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	} `json:"page"`
	Meta struct {
		Name string `json:"name"`
	} `json:"meta"`
}

// SeasonPage is one page of a collection listing plus its total count.
type SeasonPage struct {
	Name     string
	Archives []SeasonArchive
	Total    int
}

// SubtitleTrack points at one caption file on the subtitle CDN.
type SubtitleTrack struct {
	Lan         string `json:"lan"`
	LanDoc      string `json:"lan_doc"`
	SubtitleURL string `json:"subtitle_url"`
}

type playerPayload struct {
	Subtitle struct {
		Subtitles []SubtitleTrack `json:"subtitles"`
	} `json:"subtitle"`
}
