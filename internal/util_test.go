package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain-name", "plain-name"},
		{"with:colon", "with_colon"},
		{"a<b>c", "a_b_c"},
		{"trailing dots...", "trailing dots"},
	}
	for _, test := range tests {
		if got := SanitizePath(test.input); got != test.expected {
			t.Errorf("SanitizePath(%q) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestMediaBaseName(t *testing.T) {
	date := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	got := MediaBaseName("My Video", "Some Author", date)
	if got != "My Video-Some Author-2023" {
		t.Errorf("MediaBaseName = %q", got)
	}

	// Zero date falls back to the current year rather than year one.
	got = MediaBaseName("T", "A", time.Time{})
	if strings.Contains(got, "-1") && strings.HasSuffix(got, "-1") {
		t.Errorf("zero date leaked into name: %q", got)
	}
}

func TestFindDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "clip")
	if _, err := FindDownloadedFile(base); err == nil {
		t.Error("expected error when no file exists")
	}

	// mkv present, mp4 absent: probe order should land on mkv.
	if err := os.WriteFile(base+".mkv", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := FindDownloadedFile(base)
	if err != nil {
		t.Fatal(err)
	}
	if got != base+".mkv" {
		t.Errorf("FindDownloadedFile = %q, expected %q", got, base+".mkv")
	}

	// mp4 outranks mkv.
	if err := os.WriteFile(base+".mp4", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	got, _ = FindDownloadedFile(base)
	if got != base+".mp4" {
		t.Errorf("FindDownloadedFile = %q, expected %q", got, base+".mp4")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	long := strings.Repeat("a", 50)
	got := Truncate(long, 10)
	if !strings.HasPrefix(got, "aaaaaaaaaa") || !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("Truncate = %q", got)
	}
}
