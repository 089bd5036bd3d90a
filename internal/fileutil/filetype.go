// Package fileutil handles attachment bytes: real-type detection from magic
// bytes, server-declared filename recovery, and repair of filenames mangled
// by the encoding mistakes endemic to government file servers.
package fileutil

import (
	"bytes"
	"strings"
)

// FileType is the detected attachment format.
type FileType string

// Supported attachment formats. hwp is the legacy OLE-container office
// format, hwpx its ZIP-based successor.
const (
	TypePDF     FileType = "pdf"
	TypeHWP     FileType = "hwp"
	TypeHWPX    FileType = "hwpx"
	TypeUnknown FileType = "unknown"
)

var (
	pdfMagic  = []byte("%PDF-")
	oleMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	htmlHints = [][]byte{[]byte("<!doctype"), []byte("<html"), []byte("<head")}
)

// DetectType classifies a payload by its leading bytes. Extensions lie
// (agency servers serve .hwp URLs that deliver PDFs and vice versa), so the
// content is authoritative once available.
func DetectType(data []byte) FileType {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return TypePDF
	case bytes.HasPrefix(data, oleMagic):
		return TypeHWP
	case bytes.HasPrefix(data, zipMagic):
		return TypeHWPX
	default:
		return TypeUnknown
	}
}

// GuessTypeFromName is the preliminary guess used before bytes arrive.
func GuessTypeFromName(name string) FileType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return TypePDF
	case strings.HasSuffix(lower, ".hwp"):
		return TypeHWP
	case strings.HasSuffix(lower, ".hwpx"):
		return TypeHWPX
	default:
		return TypeUnknown
	}
}

// LooksLikeHTML reports whether a payload that should be binary is actually
// an HTML page, the usual shape of a session-expired or blocked download.
func LooksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data))
	if len(head) > 256 {
		head = head[:256]
	}
	for _, hint := range htmlHints {
		if bytes.Contains(head, hint) {
			return true
		}
	}
	return false
}
