package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// Bizinfo parses the national support-program listing API. Unlike the HTML
// families this endpoint returns JSON, so "parsing" is mostly filtering.
type Bizinfo struct{}

// NewBizinfo constructs the parser.
func NewBizinfo() *Bizinfo { return &Bizinfo{} }

// Family implements Parser.
func (b *Bizinfo) Family() model.SiteFamily { return model.FamilyBizinfo }

type bizinfoEnvelope struct {
	JSONArray []bizinfoItem `json:"jsonArray"`
}

type bizinfoItem struct {
	PblancID   string `json:"pblancId"`
	PblancNm   string `json:"pblancNm"`
	JrsdInstt  string `json:"jrsdInsttNm"`
	CategoryNm string `json:"pldirSportRealmLclasCodeNm"`
	Hashtags   string `json:"hashtags"`
	CreatPnttm string `json:"creatPnttm"`
	PblancURL  string `json:"pblancUrl"`
}

// ParseListing implements Parser.
func (b *Bizinfo) ParseListing(body []byte, sourceURL string, window Window) ([]model.Candidate, error) {
	var envelope bizinfoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// The API serves an HTML maintenance page under JSON routes at night.
		return nil, fmt.Errorf("bizinfo: decode listing: %w", err)
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("bizinfo: parse source url: %w", err)
	}

	out := make([]model.Candidate, 0, len(envelope.JSONArray))
	for _, item := range envelope.JSONArray {
		title := strings.TrimSpace(item.PblancNm)
		if !plausibleTitle(title) {
			continue
		}
		registered, ok := ParseDate(item.CreatPnttm)
		if !ok || !window.Contains(registered) {
			continue
		}
		detail := item.PblancURL
		if detail != "" {
			if ref, err := url.Parse(detail); err == nil {
				detail = base.ResolveReference(ref).String()
			}
		}
		out = append(out, model.Candidate{
			ExternalID:   strings.TrimSpace(item.PblancID),
			Title:        title,
			Organization: strings.TrimSpace(item.JrsdInstt),
			Category:     strings.TrimSpace(item.CategoryNm),
			Region:       regionFromHashtags(item.Hashtags),
			RegisteredAt: registered,
			DetailURL:    detail,
		})
	}
	return out, nil
}

// PageURL implements Parser. The API pages on the pageIndex query parameter.
func (b *Bizinfo) PageURL(listingURL string, page int) (string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("bizinfo: parse listing url: %w", err)
	}
	q := u.Query()
	q.Set("pageIndex", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// regionFromHashtags pulls the first region-looking tag; the API mixes
// regions with topical tags in one comma-joined field.
func regionFromHashtags(tags string) string {
	for _, tag := range strings.Split(tags, ",") {
		tag = strings.TrimSpace(tag)
		if _, ok := knownRegions[tag]; ok {
			return tag
		}
	}
	return model.RegionNationwide
}

var knownRegions = map[string]struct{}{
	"서울": {}, "부산": {}, "대구": {}, "인천": {}, "광주": {}, "대전": {}, "울산": {},
	"세종": {}, "경기": {}, "강원": {}, "충북": {}, "충남": {}, "전북": {}, "전남": {},
	"경북": {}, "경남": {}, "제주": {}, model.RegionNationwide: {},
}
