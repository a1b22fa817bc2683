package judge

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// scorePattern matches verdicts such as "**Score: 0.85" or "Evaluation score: 1".
var scorePattern = regexp.MustCompile(`(?i)Score:\s*(\d+\.?\d*)`)

// scoreKeys are tried in order on JSON verdicts.
var scoreKeys = []string{"score", "accuracy", "accuracy_score"}

// ExtractScore pulls an accuracy score out of a judge verdict.
//
// A JSON object verdict yields the first present score key; values above 1 are read as
// percentages. Text that is not JSON is searched for "Score: <number>", taken as is.
// Anything else yields nil.
func ExtractScore(verdict string) *float64 {
	var parsed any
	if err := json.Unmarshal([]byte(verdict), &parsed); err != nil {
		return scoreFromText(verdict)
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range scoreKeys {
		raw, present := obj[key]
		if !present || raw == nil {
			continue
		}
		score, ok := toScore(raw)
		if !ok {
			return nil
		}
		if score > 1 {
			score /= 100
		}
		return &score
	}
	return nil
}

func scoreFromText(verdict string) *float64 {
	match := scorePattern.FindStringSubmatch(verdict)
	if match == nil {
		return nil
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &score
}

func toScore(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
