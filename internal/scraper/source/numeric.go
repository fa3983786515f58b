package source

import (
	"regexp"
	"strconv"
)

var (
	intToken   = regexp.MustCompile(`\d+`)
	floatToken = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// FirstInt returns the first run of digits in s, or 0 when there is none
// or it does not fit in an int64.
func FirstInt(s string) int64 {
	m := intToken.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FirstFloat returns the first integer or decimal token in s, or 0.
func FirstFloat(s string) float64 {
	m := floatToken.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}
