package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// KStartup parses the startup-agency announcement board. Listings are card
// lists rather than tables, and detail links are JS-triggered, so the
// announcement serial has to be dug out of an onclick handler.
type KStartup struct{}

// NewKStartup constructs the parser.
func NewKStartup() *KStartup { return &KStartup{} }

// Family implements Parser.
func (k *KStartup) Family() model.SiteFamily { return model.FamilyKStartup }

const kstartupDetailURL = "https://www.k-startup.go.kr/web/contents/bizpbanc-ongoing.do?schM=view&pbancSn=%s"

var goViewRe = regexp.MustCompile(`go_view\(\s*'?(\d+)'?\s*\)`)

// ParseListing implements Parser.
func (k *KStartup) ParseListing(body []byte, _ string, window Window) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kstartup: parse html: %w", err)
	}

	var out []model.Candidate
	doc.Find("li.notice_wrap, ul.notice > li").Each(func(_ int, li *goquery.Selection) {
		anchor := li.Find("a.tit").First()
		if anchor.Length() == 0 {
			anchor = li.Find(".middle a").First()
		}
		title := strings.TrimSpace(anchor.Text())
		if !plausibleTitle(title) {
			return
		}
		if li.Find(".flag_notice").Length() > 0 {
			return // pinned announcement, repeated on every page
		}

		var serial string
		for _, attr := range []string{"href", "onclick"} {
			if v, ok := anchor.Attr(attr); ok {
				if m := goViewRe.FindStringSubmatch(v); m != nil {
					serial = m[1]
					break
				}
			}
		}

		info := k.listInfo(li)
		registered, ok := ParseDate(info["등록일자"])
		if !ok || !window.Contains(registered) {
			return
		}

		c := model.Candidate{
			ExternalID:   serial,
			Title:        title,
			Organization: info["기관명"],
			Category:     info["지원분야"],
			Region:       info["지역"],
			RegisteredAt: registered,
		}
		if c.Region == "" {
			c.Region = model.RegionNationwide
		}
		if serial != "" {
			c.DetailURL = fmt.Sprintf(kstartupDetailURL, serial)
		}
		out = append(out, c)
	})
	return out, nil
}

// listInfo reads the "label value" spans under a card's bottom strip.
func (k *KStartup) listInfo(li *goquery.Selection) map[string]string {
	info := map[string]string{}
	li.Find(".bottom span.list, .bottom span").Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		for _, label := range []string{"등록일자", "기관명", "지원분야", "지역", "마감일자"} {
			if strings.HasPrefix(text, label) {
				info[label] = strings.TrimSpace(strings.TrimPrefix(text, label))
			}
		}
	})
	return info
}

// PageURL implements Parser.
func (k *KStartup) PageURL(listingURL string, page int) (string, error) {
	return setQueryParam(listingURL, "page", strconv.Itoa(page))
}
