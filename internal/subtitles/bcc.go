package subtitles

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type bccDocument struct {
	Body []bccCue `json:"body"`
}

type bccCue struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

// BCCToVTT converts Bilibili's BCC caption JSON into WebVTT. Input may be a
// raw JSON string/[]byte or already-decoded JSON. Anything malformed (bad
// JSON, missing body, non-array body) yields an empty string, never an
// error: callers treat "" as "no subtitles".
func BCCToVTT(input any) string {
	var raw []byte
	switch v := input.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return ""
		}
	}

	// Reject documents where "body" exists but is not an array before the
	// typed decode papers over it.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	bodyRaw, ok := probe["body"]
	if !ok {
		return ""
	}
	var body []bccCue
	if err := json.Unmarshal(bodyRaw, &body); err != nil {
		return ""
	}
	if len(body) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, cue := range body {
		b.WriteString(fmt.Sprintf("%d\n", i+1))
		b.WriteString(formatTimestamp(cue.From))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(cue.To))
		b.WriteString("\n")
		b.WriteString(cue.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// formatTimestamp renders fractional seconds as HH:MM:SS.mmm.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3600000
	m := (millis % 3600000) / 60000
	s := (millis % 60000) / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
