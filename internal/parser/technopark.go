package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// Technopark parses the regional technopark board family. A dozen parks run
// the same bulletin-board layout with minor skin differences: a numbered
// table whose title column links to the detail view. Markup quality varies,
// so cell roles are detected by content, not by class names.
type Technopark struct{}

// NewTechnopark constructs the parser.
func NewTechnopark() *Technopark { return &Technopark{} }

// Family implements Parser.
func (t *Technopark) Family() model.SiteFamily { return model.FamilyTechnopark }

// ParseListing implements Parser.
func (t *Technopark) ParseListing(body []byte, sourceURL string, window Window) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("technopark: parse html: %w", err)
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("technopark: parse source url: %w", err)
	}

	var out []model.Candidate
	doc.Find("table tbody tr, table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return // header or decoration row
		}
		if isNoticeRow(cells.First().Text()) {
			return
		}

		anchor := row.Find("td a[href]").First()
		title := strings.TrimSpace(anchor.Text())
		if title == "" {
			title = strings.TrimSpace(row.Find("td.title, td.subject").First().Text())
		}
		if !plausibleTitle(title) {
			return
		}

		registered, ok := t.rowDate(cells)
		if !ok || !window.Contains(registered) {
			return
		}

		detail := ""
		if href, hasHref := anchor.Attr("href"); hasHref && !strings.HasPrefix(href, "javascript") {
			if ref, perr := url.Parse(href); perr == nil {
				detail = base.ResolveReference(ref).String()
			}
		}

		out = append(out, model.Candidate{
			Title:        title,
			Organization: strings.TrimSpace(row.Find("td.writer, td.dept").First().Text()),
			RegisteredAt: registered,
			DetailURL:    detail,
		})
	})
	return out, nil
}

// rowDate scans cells right-to-left for the first parseable date; boards
// place it anywhere after the title column. Hit counters do not look like
// dates, so content sniffing is safe here.
func (t *Technopark) rowDate(cells *goquery.Selection) (registered time.Time, ok bool) {
	for i := cells.Length() - 1; i >= 0; i-- {
		if d, found := ParseDate(cells.Eq(i).Text()); found {
			return d, true
		}
	}
	return time.Time{}, false
}

// PageURL implements Parser. The board family pages on "page".
func (t *Technopark) PageURL(listingURL string, page int) (string, error) {
	return setQueryParam(listingURL, "page", strconv.Itoa(page))
}

func setQueryParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
