package ytdlp

// Client invokes the external yt-dlp binary. All methods spawn one process
// per call; cancellation kills the process.
type Client struct {
	BinPath string
	Proxy   string
}

func NewClient(binPath, proxy string) *Client {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &Client{BinPath: binPath, Proxy: proxy}
}

// VideoMetadata is the subset of --dump-json output the archiver cares
// about.
type VideoMetadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	UploadDate  string  `json:"upload_date"` // YYYYMMDD
	Thumbnail   string  `json:"thumbnail"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	WebpageURL  string  `json:"webpage_url"`
}

// FlatEntry is one item of a flat-playlist listing: id and URL only, nothing
// resolved or downloaded.
type FlatEntry struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// DownloadOptions shape a single download invocation.
type DownloadOptions struct {
	// OutputTemplate is passed to -o.
	OutputTemplate string
	// FormatSelector is passed to -f when set.
	FormatSelector string
	// MergeFormat is passed to --merge-output-format when set.
	MergeFormat string
	// Referer and UserAgent are sent as request headers when set. Required
	// by hotlink-protected CDNs when downloading bare manifest URLs.
	Referer   string
	UserAgent string
	// ExtraArgs are appended verbatim.
	ExtraArgs []string
	// OnStart runs once the process exists, receiving a function that kills
	// it. Callers register this as their cancel hook.
	OnStart func(cancel func())
	// OnOutputLine receives each stdout line as it arrives (progress feed).
	OnOutputLine func(line string)
}
