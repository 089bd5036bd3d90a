package fileutil

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/fetch"
)

// DownloadedFile is one fetched attachment body plus everything learned
// about it along the way.
type DownloadedFile struct {
	FileName string
	Type     FileType
	Body     []byte
	URL      string
}

// Downloader fetches attachment files and settles their name and type.
// Name resolution order: Content-Disposition header, then URL path, then
// the anchor text the detail page showed. Type is always decided by magic
// bytes, never by the name alone.
type Downloader struct {
	fetcher fetch.Client
	maxSize int64
	logger  *zap.Logger
}

// DefaultMaxFileSize bounds a single attachment download. Announcement
// files above this are almost always misconfigured video or archive dumps.
const DefaultMaxFileSize = 50 << 20

// NewDownloader constructs a Downloader. maxSize <= 0 selects
// DefaultMaxFileSize.
func NewDownloader(fetcher fetch.Client, maxSize int64, logger *zap.Logger) *Downloader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{fetcher: fetcher, maxSize: maxSize, logger: logger}
}

// Download fetches one attachment. linkName is the text the detail page
// advertised for the file, used only when neither the response header nor
// the URL yields a name. cookies is the detail-page session; several boards
// serve a login page to cookie-less download requests.
func (d *Downloader) Download(ctx context.Context, url, linkName string, cookies []*http.Cookie) (DownloadedFile, error) {
	resp, err := d.fetcher.Fetch(ctx, url, fetch.Options{Cookies: cookies})
	if err != nil {
		return DownloadedFile{}, fmt.Errorf("download %s: %w", url, err)
	}
	if int64(len(resp.Body)) > d.maxSize {
		return DownloadedFile{}, fmt.Errorf("download %s: %d bytes exceeds limit: %w", url, len(resp.Body), fetch.ErrUnexpectedContent)
	}
	if LooksLikeHTML(resp.Body) {
		// A board that wanted a session (or a referer) sends its error page
		// with status 200. Treat it as a failed download, not a file.
		d.logger.Warn("download returned html, not a file",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return DownloadedFile{}, fmt.Errorf("download %s: body is html: %w", url, fetch.ErrUnexpectedContent)
	}

	name := FileNameFromHeader(resp.Headers.Get("Content-Disposition"))
	if name == "" {
		name = FileNameFromURL(resp.URL)
	}
	if name == "" {
		name = RepairFileName(linkName)
	}

	ftype := DetectType(resp.Body)
	if ftype == TypeUnknown {
		ftype = GuessTypeFromName(name)
	}

	return DownloadedFile{
		FileName: name,
		Type:     ftype,
		Body:     resp.Body,
		URL:      resp.URL,
	}, nil
}
