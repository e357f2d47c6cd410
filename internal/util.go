package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// VideoExtensions is the probe order for locating a finished download when
// the external tool picked the container itself.
var VideoExtensions = []string{"mp4", "mkv", "webm", "flv"}

var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

func SanitizePath(path string) string {
	components := strings.Split(filepath.ToSlash(path), "/")
	for i, component := range components {
		if component == "" {
			continue
		}
		safeComponent := invalidChars.ReplaceAllString(component, "_")
		safeComponent = strings.Trim(safeComponent, " .")
		const maxLength = 255
		if len(safeComponent) > maxLength {
			safeComponent = safeComponent[:maxLength]
		}
		components[i] = safeComponent
	}
	return filepath.Join(components...)
}

// MediaBaseName derives the canonical "title-author-year" file base used for
// the video, its thumbnail and its subtitles.
func MediaBaseName(title, author string, date time.Time) string {
	year := date.Year()
	if year <= 1 {
		year = time.Now().Year()
	}
	base := fmt.Sprintf("%s-%s-%d", strings.TrimSpace(title), strings.TrimSpace(author), year)
	return SanitizePath(base)
}

// FindDownloadedFile probes known container extensions in priority order and
// returns the first file that exists for the given path base.
func FindDownloadedFile(base string) (string, error) {
	for _, ext := range VideoExtensions {
		candidate := base + "." + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no downloaded file found for base %s", base)
}

// RemovePartialFiles deletes the target and the droppings the external tool
// leaves behind when a transfer is interrupted.
func RemovePartialFiles(target string) {
	_ = os.Remove(target)
	_ = os.Remove(target + ".part")
	_ = os.Remove(target + ".ytdl")
	for _, ext := range VideoExtensions {
		_ = os.Remove(strings.TrimSuffix(target, filepath.Ext(target)) + "." + ext + ".part")
	}
}

// Truncate caps diagnostic strings included in error messages.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dir, err)
	}
	return nil
}
