package progress

import (
	"context"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1.5 GiB", 1610612736},
		{"1.5GiB", 1610612736},
		{"100 MiB", 104857600},
		{"1 KiB", 1024},
		{"512 B", 512},
		{"1 KB", 1000},
		{"2.5 MB", 2500000},
		{"", 0},
		{"garbage", 0},
		{"12 XB", 0},
	}
	for _, test := range tests {
		if got := ParseSize(test.input); got != test.expected {
			t.Errorf("ParseSize(%q) = %d, expected %d", test.input, got, test.expected)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{1536, "1.5 KiB"},
		{1024, "1 KiB"},
		{512, "512 B"},
		{104857600, "100 MiB"},
		{1610612736, "1.5 GiB"},
		{0, "0 B"},
	}
	for _, test := range tests {
		if got := FormatBytes(test.input); got != test.expected {
			t.Errorf("FormatBytes(%d) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestCalculateDownloadedSize(t *testing.T) {
	tests := []struct {
		percent  float64
		total    string
		expected string
	}{
		{50, "100 MiB", "50 MiB"},
		{25, "1 GiB", "256 MiB"},
		{100, "1.5 GiB", "1.5 GiB"},
		{10, "not a size", ""},
	}
	for _, test := range tests {
		if got := CalculateDownloadedSize(test.percent, test.total); got != test.expected {
			t.Errorf("CalculateDownloadedSize(%v, %q) = %q, expected %q", test.percent, test.total, got, test.expected)
		}
	}
}

func TestParseProgressLine(t *testing.T) {
	info, ok := ParseProgressLine("[download]  12.3% of 100.00MiB at 1.50MiB/s ETA 00:12")
	if !ok {
		t.Fatal("expected progress line to parse")
	}
	if info.Percent != 12.3 {
		t.Errorf("Percent = %v, expected 12.3", info.Percent)
	}
	if info.TotalSize != "100.00MiB" {
		t.Errorf("TotalSize = %q, expected 100.00MiB", info.TotalSize)
	}
	if info.Speed != "1.50MiB/s" {
		t.Errorf("Speed = %q, expected 1.50MiB/s", info.Speed)
	}
	if info.ETA != "00:12" {
		t.Errorf("ETA = %q, expected 00:12", info.ETA)
	}

	if _, ok := ParseProgressLine("[youtube] extracting video information"); ok {
		t.Error("non-progress line should not parse")
	}
	if _, ok := ParseProgressLine(""); ok {
		t.Error("empty line should not parse")
	}
}

func TestParseProgressLineEstimatedTotal(t *testing.T) {
	info, ok := ParseProgressLine("[download]  50.0% of ~ 200.00MiB at  5.00MiB/s ETA 00:40")
	if !ok {
		t.Fatal("expected estimated-total line to parse")
	}
	if info.DownloadedSize != "100 MiB" {
		t.Errorf("DownloadedSize = %q, expected 100 MiB", info.DownloadedSize)
	}
}

type captureSink struct {
	id   string
	last ProgressInfo
	hits int
}

func (c *captureSink) PublishProgress(id string, info ProgressInfo) {
	c.id = id
	c.last = info
	c.hits++
}

func TestTrackerConsumeLine(t *testing.T) {
	sink := &captureSink{}
	tracker := NewTracker("dl-1", sink)
	ctx := context.Background()

	tracker.ConsumeLine(ctx, "[youtube] noise")
	if sink.hits != 0 {
		t.Errorf("noise line published %d updates, expected 0", sink.hits)
	}

	tracker.ConsumeLine(ctx, "[download]  40.0% of 100.00MiB at 2.00MiB/s ETA 00:30")
	if sink.hits != 1 {
		t.Fatalf("progress line published %d updates, expected 1", sink.hits)
	}
	if sink.id != "dl-1" {
		t.Errorf("published id = %q, expected dl-1", sink.id)
	}
	if sink.last.DownloadedSize != "40 MiB" {
		t.Errorf("DownloadedSize = %q, expected 40 MiB", sink.last.DownloadedSize)
	}
}
