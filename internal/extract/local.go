package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxLocalPDFPages bounds the fallback PDF walk; announcement documents
// beyond this are appendix scans with no useful text density.
const maxLocalPDFPages = 100

// pdfText is the local fallback for PDF attachments.
func pdfText(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var b strings.Builder
	pages := doc.NumPage()
	if pages > maxLocalPDFPages {
		pages = maxLocalPDFPages
	}
	for i := 1; i <= pages; i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Malformed pages are common in agency PDFs; keep the rest.
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("pdf has no extractable text")
	}
	return out, nil
}

// hwpxText is the local fallback for the ZIP-based office format. Body
// text lives in Contents/section*.xml; pulling every character-data node
// in document order recovers a readable, if unstyled, text stream.
func hwpxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open hwpx container: %w", err)
	}

	var b strings.Builder
	sections := 0
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "Contents/section") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		sections++
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open hwpx section %s: %w", f.Name, err)
		}
		err = appendXMLText(&b, rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse hwpx section %s: %w", f.Name, err)
		}
	}
	if sections == 0 {
		return "", fmt.Errorf("hwpx container has no section documents")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("hwpx has no extractable text")
	}
	return out, nil
}

func appendXMLText(b *strings.Builder, r io.Reader) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		case xml.EndElement:
			// Paragraph boundaries keep sentences from fusing.
			if t.Name.Local == "p" {
				b.WriteString("\n")
			}
		}
	}
}
