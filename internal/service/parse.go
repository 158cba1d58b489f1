package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// decodeModelJSON parses a structured model response. Models sometimes wrap
// JSON in markdown fences or lead with prose; the decoder strips fences and
// scans to the first JSON token before unmarshalling.
func decodeModelJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if i := strings.IndexAny(text, "{["); i > 0 {
		text = text[i:]
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

// truncate caps s at n bytes, appending a marker when content was dropped.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// fileNames returns the attachment names for classification hints.
func fileNames(files []state.File) []string {
	if len(files) == 0 {
		return nil
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}
