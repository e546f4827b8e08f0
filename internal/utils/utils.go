package utils

import (
	"net/url"
	"path"
	"strings"
)

// maxFilenameLen keeps archive entry names within what common archive tools
// and filesystems accept.
const maxFilenameLen = 100

// filenameReplacer strips characters that are invalid in filenames on at
// least one mainstream platform.
var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "",
)

// SanitizeFilename turns an arbitrary title into a safe filename fragment.
// Returns "" when nothing usable remains, in which case the caller should
// fall back to a synthetic id-based name.
func SanitizeFilename(title string) string {
	s := filenameReplacer.Replace(title)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ". ")
	if len(s) > maxFilenameLen {
		s = strings.TrimRight(s[:maxFilenameLen], ". ")
	}
	return s
}

// URLExt returns the lowercase file extension of a URL's path, including the
// leading dot, or "" when none can be determined.
func URLExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	// A query string accidentally glued to the path is not an extension.
	if len(ext) < 2 || len(ext) > 6 || strings.ContainsAny(ext, "/?&=") {
		return ""
	}
	return ext
}
