package bilibili

import "testing"

func TestExtractBVID(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"https://www.bilibili.com/video/BV1xx411c7mD?p=2", "BV1xx411c7mD"},
		{"https://www.bilibili.com/video/av12345", ""},
		{"", ""},
	}
	for _, test := range tests {
		if got := ExtractBVID(test.url); got != test.expected {
			t.Errorf("ExtractBVID(%q) = %q, expected %q", test.url, got, test.expected)
		}
	}
}
