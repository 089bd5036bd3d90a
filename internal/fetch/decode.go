package fetch

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// Several technopark sites still serve EUC-KR. Parsers downstream assume
// UTF-8, so HTML responses are transcoded at the fetch boundary. Legacy
// boards also mislabel file downloads as text/html, so the header alone is
// not trusted: the body must itself look like an HTML document, and known
// binary signatures are never touched. The EUC-KR decoder substitutes
// U+FFFD for un-decodable bytes instead of failing, which would silently
// destroy a binary payload before type sniffing sees it.

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*(euc-kr|ks_c_5601-1987|cp949)`)

var binarySignatures = [][]byte{
	[]byte("%PDF-"),
	{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1},
	{0x50, 0x4B, 0x03, 0x04},
}

var htmlMarkers = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<meta"),
	[]byte("<body"),
	[]byte("<script"),
}

// decodeKorean returns body transcoded to UTF-8 when the Content-Type
// header or an early meta tag declares a Korean legacy charset and the body
// is actually an HTML document. Anything else comes back unchanged.
func decodeKorean(body []byte, contentType string) []byte {
	if !isLegacyKoreanHTML(body, contentType) {
		return body
	}
	decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), body)
	if err != nil {
		return body
	}
	return decoded
}

func isLegacyKoreanHTML(body []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "text/html") && ct != "" {
		return false
	}
	if !looksLikeHTMLDocument(body) {
		return false
	}
	if strings.Contains(ct, "euc-kr") || strings.Contains(ct, "ks_c_5601") || strings.Contains(ct, "cp949") {
		return true
	}
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	return metaCharsetRe.Match(head)
}

func looksLikeHTMLDocument(body []byte) bool {
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(body, sig) {
			return false
		}
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	for _, marker := range htmlMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}
