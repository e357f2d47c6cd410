package progress

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gcottom/go-zaplog"
	"go.uber.org/zap"
)

// ProgressInfo is one parsed snapshot of an external downloader's output.
type ProgressInfo struct {
	Percent        float64
	TotalSize      string
	DownloadedSize string
	Speed          string
	ETA            string
}

// Publisher receives parsed progress snapshots, keyed by download id. The
// active-download registry implements this.
type Publisher interface {
	PublishProgress(id string, info ProgressInfo)
}

// Example line:
// [download]  12.3% of 100.00MiB at 1.50MiB/s ETA 00:12
var progressLineRe = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%\s+of\s+~?\s*([\d.]+\s*[KMGT]?i?B)(?:\s+at\s+([\d.]+\s*[KMGT]?i?B/s|Unknown speed))?(?:\s+ETA\s+([\d:]+|Unknown))?`)

var sizeRe = regexp.MustCompile(`(?i)^\s*([\d.]+)\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)\s*$`)

// ParseProgressLine extracts a progress snapshot from a single output line.
// Returns false for lines that are not progress reports.
func ParseProgressLine(line string) (ProgressInfo, bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return ProgressInfo{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return ProgressInfo{}, false
	}
	info := ProgressInfo{
		Percent:   pct,
		TotalSize: strings.TrimSpace(m[2]),
		Speed:     strings.TrimSpace(m[3]),
		ETA:       strings.TrimSpace(m[4]),
	}
	info.DownloadedSize = CalculateDownloadedSize(pct, info.TotalSize)
	return info, true
}

// ParseSize converts a human-readable size ("1.5 GiB", "100 MB") to bytes.
// Binary units use 1024 multiples, decimal units 1000. Returns 0 for
// unparseable input.
func ParseSize(s string) int64 {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := strings.ToUpper(m[2])
	var mult float64
	switch unit {
	case "B":
		mult = 1
	case "KIB":
		mult = 1 << 10
	case "MIB":
		mult = 1 << 20
	case "GIB":
		mult = 1 << 30
	case "TIB":
		mult = 1 << 40
	case "KB":
		mult = 1e3
	case "MB":
		mult = 1e6
	case "GB":
		mult = 1e9
	case "TB":
		mult = 1e12
	default:
		return 0
	}
	return int64(value * mult)
}

// FormatBytes renders a byte count with binary units, one decimal at most.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	value := float64(bytes)
	idx := 0
	for value >= 1024 && idx < len(units)-1 {
		value /= 1024
		idx++
	}
	value = math.Round(value*10) / 10
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + units[idx]
}

// CalculateDownloadedSize derives a downloaded-so-far string from a percent
// and the reported total ("50 MiB" for 50% of "100 MiB"). Empty when the
// total cannot be parsed.
func CalculateDownloadedSize(percent float64, totalSize string) string {
	total := ParseSize(totalSize)
	if total <= 0 {
		return ""
	}
	return FormatBytes(int64(float64(total) * percent / 100))
}

// Tracker feeds an external tool's output lines into the active-download
// registry for one download id.
type Tracker struct {
	ID        string
	Publisher Publisher
}

func NewTracker(id string, publisher Publisher) *Tracker {
	return &Tracker{ID: id, Publisher: publisher}
}

// ConsumeLine parses one raw output line and republishes it when it carries
// progress. Non-progress lines are ignored.
func (t *Tracker) ConsumeLine(ctx context.Context, line string) {
	info, ok := ParseProgressLine(line)
	if !ok {
		return
	}
	if t.Publisher == nil {
		zaplog.WarnC(ctx, "progress tracker has no publisher", zap.String("id", t.ID))
		return
	}
	t.Publisher.PublishProgress(t.ID, info)
}
