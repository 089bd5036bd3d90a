// Package detail follows candidate detail links and extracts attachment
// URLs. Every site family encodes "download this file" differently, so the
// extractors are per-family and deliberately hand-built.
package detail

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/fetch"
	"github.com/bizradar-io/support-crawler/internal/model"
)

// AttachmentLink is one resolved downloadable file on a detail page.
type AttachmentLink struct {
	FileName string
	URL      string
}

// Result carries everything learned from one detail page.
type Result struct {
	Attachments []AttachmentLink
	// Cookies returned by the detail fetch; the file download must present
	// the same session or several boards serve a login page instead.
	Cookies []*http.Cookie
}

// Resolver fetches detail pages and extracts attachment links.
type Resolver struct {
	fetcher    fetch.Client
	fetchDelay time.Duration
	logger     *zap.Logger
}

// NewResolver constructs a Resolver. fetchDelay is the politeness pause
// enforced after every detail fetch.
func NewResolver(fetcher fetch.Client, fetchDelay time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, fetchDelay: fetchDelay, logger: logger}
}

// Resolve fetches the candidate's detail page and extracts its attachments.
func (r *Resolver) Resolve(ctx context.Context, family model.SiteFamily, detailURL string) (Result, error) {
	if detailURL == "" {
		return Result{}, nil
	}
	resp, err := r.fetcher.Fetch(ctx, detailURL, fetch.Options{})
	if err != nil {
		return Result{}, fmt.Errorf("fetch detail page: %w", err)
	}
	defer r.pause(ctx)

	base, err := url.Parse(resp.URL)
	if err != nil || base.Host == "" {
		base, err = url.Parse(detailURL)
		if err != nil {
			return Result{}, fmt.Errorf("parse detail url: %w", err)
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Result{}, fmt.Errorf("parse detail html: %w", err)
	}

	var links []AttachmentLink
	switch family {
	case model.FamilyBizinfo:
		links = extractBizinfo(doc, base)
	case model.FamilyKStartup:
		links = extractKStartup(doc, base)
	case model.FamilyTechnopark:
		links = extractTechnopark(doc, base)
	default:
		return Result{}, fmt.Errorf("detail: no extractor for family %q", family)
	}

	return Result{Attachments: dedupeLinks(links), Cookies: resp.Cookies}, nil
}

func (r *Resolver) pause(ctx context.Context) {
	if r.fetchDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.fetchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// bizinfoDownloadRe matches the file-dispatch servlet used across the
// national portal.
var bizinfoDownloadRe = regexp.MustCompile(`FileDown\.do|atchFileId=|/afile/fileDownload/`)

// extractBizinfo: direct anchors whose href carries the download pattern.
func extractBizinfo(doc *goquery.Document, base *url.URL) []AttachmentLink {
	var out []AttachmentLink
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !bizinfoDownloadRe.MatchString(href) {
			return
		}
		out = append(out, AttachmentLink{
			FileName: cleanFileName(a.Text()),
			URL:      absolute(base, href),
		})
	})
	return out
}

// kstartupFileRe pulls the file serial out of JS download triggers like
// onclick="fn_fileDown('12345')" or href="javascript:fileDownload(12345)".
var kstartupFileRe = regexp.MustCompile(`(?:fn_fileDown|fileDownload|fnFileDown)\(\s*'?(\d+)'?\s*\)`)

const kstartupDownloadPath = "/afile/fileDownload/"

// extractKStartup: download buttons are JS-triggered; the real URL is
// reconstructed from the serial embedded in the handler.
func extractKStartup(doc *goquery.Document, base *url.URL) []AttachmentLink {
	var out []AttachmentLink
	doc.Find("a, button").Each(func(_ int, el *goquery.Selection) {
		for _, attr := range []string{"onclick", "href"} {
			v, ok := el.Attr(attr)
			if !ok {
				continue
			}
			m := kstartupFileRe.FindStringSubmatch(v)
			if m == nil {
				continue
			}
			out = append(out, AttachmentLink{
				FileName: cleanFileName(el.Text()),
				URL:      absolute(base, kstartupDownloadPath+m[1]),
			})
			return
		}
	})
	return out
}

// attachmentHeadings mark the file section on technopark boards.
var attachmentHeadings = []string{"첨부파일", "첨부", "파일"}

// extractTechnopark: boards put attachments in a list following a heading or
// label cell reading 첨부파일. Anchors elsewhere on the page are navigation.
func extractTechnopark(doc *goquery.Document, base *url.URL) []AttachmentLink {
	var out []AttachmentLink
	doc.Find("th, dt, strong, h3, h4, .file_tit").Each(func(_ int, heading *goquery.Selection) {
		text := strings.TrimSpace(heading.Text())
		if !isAttachmentHeading(text) {
			return
		}
		scope := heading.Parent()
		// Label cells pair with a sibling value cell; headings pair with the
		// following list.
		if goquery.NodeName(heading) == "th" || goquery.NodeName(heading) == "dt" {
			scope = heading.Next()
		} else if next := heading.Next(); next.Length() > 0 {
			scope = next
		}
		scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if strings.HasPrefix(href, "javascript") || href == "#" {
				return
			}
			out = append(out, AttachmentLink{
				FileName: cleanFileName(a.Text()),
				URL:      absolute(base, href),
			})
		})
	})
	return out
}

func isAttachmentHeading(text string) bool {
	for _, h := range attachmentHeadings {
		if strings.HasPrefix(text, h) {
			return true
		}
	}
	return false
}

func absolute(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var fileSizeSuffixRe = regexp.MustCompile(`\s*[\(\[][\d.,]+\s*(?:KB|MB|kb|mb|바이트)[\)\]]\s*$`)

func cleanFileName(s string) string {
	s = strings.TrimSpace(s)
	s = fileSizeSuffixRe.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "다운로드")
	return strings.TrimSpace(s)
}

func dedupeLinks(in []AttachmentLink) []AttachmentLink {
	seen := make(map[string]struct{}, len(in))
	out := make([]AttachmentLink, 0, len(in))
	for _, l := range in {
		if l.URL == "" {
			continue
		}
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		out = append(out, l)
	}
	return out
}
