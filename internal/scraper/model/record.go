package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one scraped submission. Text fields default to "" and numeric
// fields to 0 when the page lacks the expected markup.
type Record struct {
	ID            int64
	SubmittedAt   string
	Username      string
	ProblemLink   string
	Language      string
	Score         float64
	SubtaskScores []float64
	ExecutionTime int64
	Memory        int64
	Code          string
}

// MarshalJSON encodes the record as the positional tuple the coordinator stores:
// [id, submitted_at, username, problem_link, language, score, subtask_scores,
// execution_time, memory, code].
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		r.ID,
		r.SubmittedAt,
		r.Username,
		r.ProblemLink,
		r.Language,
		r.Score,
		FormatSubtaskScores(r.SubtaskScores),
		r.ExecutionTime,
		r.Memory,
		r.Code,
	})
}

// FormatSubtaskScores renders scores as a bracketed list such as "[7.0,93.5]".
func FormatSubtaskScores(scores []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range scores {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatScore(s))
	}
	b.WriteByte(']')
	return b.String()
}

// formatScore prints the shortest round-tripping form of f. Whole numbers keep
// a trailing ".0"; exponents below -4 or from 16 up switch to scientific
// notation with a signed two-digit exponent, e.g. 1e-05 and 1e+16.
func formatScore(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}
	text := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	return text
}
