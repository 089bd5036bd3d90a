package fileutil

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// rfc5987Re pulls the extended filename* parameter out of headers that
// mime.ParseMediaType rejects (unquoted Korean bytes are a frequent cause).
var rfc5987Re = regexp.MustCompile(`(?i)filename\*\s*=\s*(?:utf-8|euc-kr)''([^;]+)`)

// plainFilenameRe is the last-ditch fallback for malformed headers such as
// `attachment; filename=사업공고.hwp` emitted by older Korean gov servers.
var plainFilenameRe = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)

// FileNameFromHeader extracts a usable filename from a Content-Disposition
// header value. It prefers the RFC 5987 filename* form, falls back to the
// plain filename parameter, percent-decodes, and runs mojibake repair.
// Returns "" when the header carries no name at all.
func FileNameFromHeader(disposition string) string {
	if disposition == "" {
		return ""
	}

	var name string
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		// ParseMediaType already decodes filename* per RFC 5987 and
		// prefers it over filename when both are present.
		name = params["filename"]
	}
	if name == "" {
		if m := rfc5987Re.FindStringSubmatch(disposition); m != nil {
			name = m[1]
		}
	}
	if name == "" {
		if m := plainFilenameRe.FindStringSubmatch(disposition); m != nil {
			name = m[1]
		}
	}
	if name == "" {
		return ""
	}

	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	name = strings.TrimSpace(name)
	// Directory components in a disposition header are never legitimate.
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return RepairFileName(name)
}

// FileNameFromURL derives a filename from the final path segment of a
// download URL, percent-decoded and mojibake-repaired. Query-only download
// endpoints (e.g. FileDown.do?atchFileId=...) yield "".
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || strings.HasSuffix(u.Path, "/") {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	// Servlet endpoints are routing artifacts, not filenames.
	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, ".do") || strings.HasSuffix(lower, ".jsp") || strings.HasSuffix(lower, ".php") {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return RepairFileName(strings.TrimSpace(base))
}
