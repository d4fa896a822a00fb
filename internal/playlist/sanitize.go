package playlist

import (
	"regexp"
	"strings"
)

var (
	invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// SanitizeName turns a playlist title into a directory name.
func SanitizeName(name string) string {
	s := invalidPathChars.ReplaceAllString(name, "_")
	s = strings.Trim(strings.TrimSpace(s), ".")
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return "playlist"
	}
	return s
}
