// Package normalize turns raw announcement titles into comparable keys.
//
// Government agencies publish the same support program under wildly varying
// titles: "2024년 스마트공장 지원사업", "스마트공장 지원사업(2024)",
// "스마트공장 지원사업 '24년". This package collapses those variants into a
// single normalized string plus a character 2-gram set used for fuzzy
// matching downstream.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Year bounds for bare four-digit runs. Announcements older than 2020 are
// outside every crawl window, and 2040+ is a typo until proven otherwise.
const (
	minBareYear = 2020
	maxBareYear = 2039
)

var (
	yearSuffixRe = regexp.MustCompile(`(20\d{2})\s*년도?`)
	yearParenRe  = regexp.MustCompile(`\(\s*(20\d{2})\s*\)`)
	yearBrackRe  = regexp.MustCompile(`[\[［]\s*(20\d{2})\s*[\]］]`)
	yearAposRe   = regexp.MustCompile(`['’](\d{2})\s*년?`)
	yearBareRe   = regexp.MustCompile(`\b(20\d{2})\b`)

	// \b is useless next to Hangul (RE2 word chars are ASCII), so the bare
	// "N기" form is anchored on trailing whitespace or end-of-string instead.
	roundMarkerRe = regexp.MustCompile(`제\s*\d+\s*차|\d+\s*회차|\d+\s*기(\s|$)`)
	bracketedRe   = regexp.MustCompile(`[\[［][^\]］]*[\]］]|【[^】]*】`)
	parentheticRe = regexp.MustCompile(`\([^)]*\)`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// boilerplate tokens stripped from the edges of normalized titles. The set is
// closed on purpose: stripping aggressive substrings from the middle of a
// title merges genuinely distinct programs.
var boilerplate = []string{"지원사업", "공고", "모집", "안내"}

// Key is the comparable form of an announcement title.
type Key struct {
	Raw        string
	Normalized string
	Year       int // 0 when no year form was found
	Bigrams    map[string]struct{}
}

// NewKey extracts the year, normalizes the title, and builds its 2-gram set.
func NewKey(title string) Key {
	year := ExtractYear(title)
	norm := Normalize(title)
	return Key{
		Raw:        title,
		Normalized: norm,
		Year:       year,
		Bigrams:    Bigrams(norm),
	}
}

// ExtractYear pulls a four-digit year out of any of the surface forms agencies
// use. When several forms appear the maximum wins, since re-announcements tag
// the newest year last.
func ExtractYear(title string) int {
	best := 0
	collect := func(matches [][]string) {
		for _, m := range matches {
			if y, err := strconv.Atoi(m[1]); err == nil && y > best {
				best = y
			}
		}
	}
	collect(yearSuffixRe.FindAllStringSubmatch(title, -1))
	collect(yearParenRe.FindAllStringSubmatch(title, -1))
	collect(yearBrackRe.FindAllStringSubmatch(title, -1))

	for _, m := range yearAposRe.FindAllStringSubmatch(title, -1) {
		if short, err := strconv.Atoi(m[1]); err == nil {
			if y := 2000 + short; y >= minBareYear && y <= maxBareYear && y > best {
				best = y
			}
		}
	}
	for _, m := range yearBareRe.FindAllStringSubmatch(title, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && y >= minBareYear && y <= maxBareYear && y > best {
			best = y
		}
	}
	return best
}

// Normalize strips year forms, round markers, asides, and punctuation, then
// collapses whitespace, lower-cases, and trims boilerplate tokens.
func Normalize(title string) string {
	s := title
	s = yearBrackRe.ReplaceAllString(s, " ")
	s = yearParenRe.ReplaceAllString(s, " ")
	s = yearSuffixRe.ReplaceAllString(s, " ")
	s = yearAposRe.ReplaceAllString(s, " ")
	s = yearBareRe.ReplaceAllStringFunc(s, func(m string) string {
		if y, err := strconv.Atoi(m); err == nil && y >= minBareYear && y <= maxBareYear {
			return " "
		}
		return m
	})
	s = roundMarkerRe.ReplaceAllString(s, " ")
	s = bracketedRe.ReplaceAllString(s, " ")
	s = parentheticRe.ReplaceAllString(s, " ")
	s = stripPunct(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripBoilerplate(s)
	return s
}

func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stripBoilerplate(s string) string {
	for changed := true; changed; {
		changed = false
		for _, tok := range boilerplate {
			if t := strings.TrimSpace(strings.TrimSuffix(s, tok)); t != s && strings.HasSuffix(s, tok) {
				s, changed = t, true
			}
			if t := strings.TrimSpace(strings.TrimPrefix(s, tok)); t != s && strings.HasPrefix(s, tok) {
				s, changed = t, true
			}
		}
	}
	return s
}

// Bigrams returns the sliding-window character-pair set of s with all
// whitespace removed. Strings shorter than two runes yield the whole string
// as a single element so they still intersect with themselves.
func Bigrams(s string) map[string]struct{} {
	compact := strings.Join(strings.Fields(s), "")
	runes := []rune(compact)
	set := make(map[string]struct{})
	if len(runes) < 2 {
		if len(runes) == 1 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Jaccard computes intersection-over-union of two bigram sets. Two empty sets
// are identical by convention.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
