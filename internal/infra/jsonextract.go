package infra

import (
	"encoding/json"
	"errors"
	"strings"
)

// extractJSON pulls the first top-level JSON object out of tool output.
// simctl and xcodebuild sometimes interleave diagnostics with the JSON
// payload, and the payload may land on either stream, so each candidate
// is reduced to its first-'{'-to-last-'}' span before parsing. Candidates
// are tried in order (stdout, stderr, concatenation); the first span that
// parses wins.
func extractJSON(v any, candidates ...string) error {
	for _, c := range candidates {
		start := strings.Index(c, "{")
		end := strings.LastIndex(c, "}")
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(c[start:end+1]), v); err == nil {
			return nil
		}
	}
	return errors.New("no parseable JSON object in output")
}
