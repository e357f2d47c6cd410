package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/mediakeep/mediakeep/internal"
	"go.uber.org/zap"
)

func (c *Client) baseArgs() []string {
	args := []string{"--no-warnings", "--newline"}
	if c.Proxy != "" {
		args = append(args, "--proxy", c.Proxy)
	}
	return args
}

// DumpInfo fetches metadata for a single URL without downloading.
func (c *Client) DumpInfo(ctx context.Context, url string) (*VideoMetadata, error) {
	args := append(c.baseArgs(), "--dump-json", "--no-playlist", url)
	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		zaplog.ErrorC(ctx, "dump-json failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("failed to dump info: %w: %s", err, internal.Truncate(stderr.String(), 500))
	}
	var meta VideoMetadata
	if err := json.Unmarshal(out.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse dump-json output: %w", err)
	}
	return &meta, nil
}

// Download runs a full transfer, feeding stdout lines to the caller and
// exposing a kill function through OnStart.
func (c *Client) Download(ctx context.Context, url string, opts DownloadOptions) error {
	args := c.baseArgs()
	if opts.FormatSelector != "" {
		args = append(args, "-f", opts.FormatSelector)
	}
	if opts.MergeFormat != "" {
		args = append(args, "--merge-output-format", opts.MergeFormat)
	}
	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}
	if opts.Referer != "" {
		args = append(args, "--add-header", "Referer:"+opts.Referer)
	}
	if opts.UserAgent != "" {
		args = append(args, "--add-header", "User-Agent:"+opts.UserAgent)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start downloader process: %w", err)
	}
	if opts.OnStart != nil {
		opts.OnStart(func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		})
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if opts.OnOutputLine != nil {
			opts.OnOutputLine(line)
		}
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("downloader process failed: %w: %s", err, internal.Truncate(stderr.String(), 500))
	}
	return nil
}

// FlatPlaylist lists entries without resolving or downloading them.
// start/end are 1-based playlist positions; end 0 means "to the end".
func (c *Client) FlatPlaylist(ctx context.Context, url string, start, end int) ([]FlatEntry, error) {
	args := append(c.baseArgs(), "--flat-playlist", "--dump-json")
	if start > 0 {
		args = append(args, "--playlist-start", fmt.Sprint(start))
	}
	if end > 0 {
		args = append(args, "--playlist-end", fmt.Sprint(end))
	}
	args = append(args, url)
	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// yt-dlp exits nonzero when a listing page is empty; treat output we
		// did get as the result.
		if out.Len() == 0 {
			return nil, fmt.Errorf("failed to list playlist: %w: %s", err, internal.Truncate(stderr.String(), 500))
		}
	}
	return parseFlatEntries(out.String()), nil
}

// Search runs the tool's search-URI syntax and pages the result window
// locally.
func (c *Client) Search(ctx context.Context, query string, limit, offset int) ([]FlatEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	total := limit + offset
	searchURI := fmt.Sprintf("ytsearch%d:%s", total, query)
	entries, err := c.FlatPlaylist(ctx, searchURI, 0, 0)
	if err != nil {
		return nil, err
	}
	if offset >= len(entries) {
		return []FlatEntry{}, nil
	}
	return entries[offset:], nil
}

func parseFlatEntries(output string) []FlatEntry {
	var entries []FlatEntry
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry FlatEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.ID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
