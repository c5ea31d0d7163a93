// Package votes extracts structured scores from free-form model output
// and supplies the deterministic fallback used when extraction fails.
package votes

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Parsed is a vote judgment lifted out of raw model text. Score keeps the
// raw JSON value (number or string) so normalization stays a separate,
// caller-owned step.
type Parsed struct {
	Score  json.RawMessage `json:"score"`
	Reason string          `json:"reason"`
}

// DefaultScore is applied by Normalize when a parsed object carries no
// usable score. The parser itself never defaults.
const DefaultScore = 50

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\\n)?(.*?)```")

// parseTier attempts one extraction strategy. A nil result means the tier
// did not apply; tiers never normalize or default.
type parseTier func(text string) *Parsed

var tiers = []parseTier{
	parseDirect,
	parseFenced,
	parseBraceSpan,
}

// Parse lifts a {score, reason} object out of raw model output. Tiers run
// in order and the first to yield a parseable JSON object wins; when all
// fail the result is nil and the caller falls back to the heuristic.
func Parse(raw string) *Parsed {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	for _, tier := range tiers {
		if parsed := tier(text); parsed != nil {
			return parsed
		}
	}
	return nil
}

// parseDirect treats the whole trimmed text as JSON.
func parseDirect(text string) *Parsed {
	return unmarshalObject(text)
}

// parseFenced extracts the first fenced code block and parses its body.
func parseFenced(text string) *Parsed {
	match := fencedBlockPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	return unmarshalObject(strings.TrimSpace(match[1]))
}

// parseBraceSpan parses the substring between the first '{' and the last '}'.
func parseBraceSpan(text string) *Parsed {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	return unmarshalObject(text[start : end+1])
}

func unmarshalObject(text string) *Parsed {
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return nil
	}
	var parsed Parsed
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil
	}
	return &parsed
}

// Normalize converts a parsed score into a clamped integer in [0,100].
// Numbers and numeric strings round to the nearest integer; anything else
// yields DefaultScore.
func Normalize(p *Parsed) int {
	if p == nil || len(p.Score) == 0 || string(p.Score) == "null" {
		return DefaultScore
	}

	var num float64
	if err := json.Unmarshal(p.Score, &num); err == nil {
		return ClampScore(int(math.Round(num)))
	}

	var str string
	if err := json.Unmarshal(p.Score, &str); err == nil {
		if num, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return ClampScore(int(math.Round(num)))
		}
	}
	return DefaultScore
}

// ClampScore bounds a score to the valid [0,100] range.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
