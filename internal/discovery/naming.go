package discovery

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxLabel is the longest DNS label, in bytes.
const maxLabel = 63

// AlternativeName returns the next name to try after a collision:
// "name" becomes "name #2", "name #2" becomes "name #3", and so on. The
// result never exceeds one DNS label; the base is shortened to make room.
func AlternativeName(name string) string {
	base, n := name, 1
	if i := strings.LastIndex(name, " #"); i >= 0 {
		digits := name[i+2:]
		if v, err := strconv.Atoi(digits); err == nil && v >= 1 && digits[0] != '0' && digits[0] != '+' {
			base, n = name[:i], v
		}
	}

	suffix := " #" + strconv.Itoa(n+1)
	if len(base)+len(suffix) > maxLabel {
		base = truncateUTF8(base, maxLabel-len(suffix))
	}
	return base + suffix
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
