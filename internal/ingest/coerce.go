package ingest

import (
	"regexp"
	"strconv"
)

var (
	floatPrefix = regexp.MustCompile(`^\s*([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)`)
	intPrefix   = regexp.MustCompile(`^\s*([+-]?\d+)`)
)

// parseFloatPrefix reads the longest numeric prefix of s, so "0.5 warm"
// yields 0.5. ok is false when s does not start with a number.
func parseFloatPrefix(s string) (float64, bool) {
	m := floatPrefix.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseIntPrefix reads the leading integer of s, so "500 tokens" and "1e3"
// yield 500 and 1.
func parseIntPrefix(s string) (int, bool) {
	m := intPrefix.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
