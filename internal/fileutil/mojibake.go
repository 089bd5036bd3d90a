package fileutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

// IsCorrupted flags a filename that shows any of the known mojibake
// signatures. The heuristics are curated from real agency downloads; they
// can in principle misfire on rare-but-legitimate syllables, and that edge
// is accepted rather than papered over (see DESIGN.md).
func IsCorrupted(s string) bool {
	if s == "" {
		return false
	}
	return strings.ContainsRune(s, utf8.RuneError) ||
		hasJamoRun(s) ||
		hasLatin1Run(s) ||
		hasCJKRun(s) ||
		hasArtifactSyllables(s)
}

// hasJamoRun detects isolated compatibility-jamo runs (ㄱㅏㄴ...), which
// never appear in composed Korean filenames.
func hasJamoRun(s string) bool {
	run := 0
	for _, r := range s {
		if (r >= 0x3130 && r <= 0x318F) || (r >= 0x1100 && r <= 0x11FF) {
			run++
			if run >= 2 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// hasLatin1Run detects dense runs of high Latin-1 code points ("°ø°í¹®"),
// the shape of EUC-KR or UTF-8 bytes read as ISO-8859-1. The range starts
// at the C1 controls because misread multibyte sequences land anywhere in
// the high half, and no legitimate filename carries C1 controls.
func hasLatin1Run(s string) bool {
	run := 0
	for _, r := range s {
		if r >= 0x0080 && r <= 0x00FF {
			run++
			if run >= 3 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// hasCJKRun detects long CJK-ideograph runs. Hanja appears in Korean
// filenames one or two characters at a time; four-plus in a row is UTF-8
// bytes read as EUC-KR.
func hasCJKRun(s string) bool {
	run := 0
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			run++
			if run >= 4 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// Curated artifact syllables. Set A is the classic EUC-KR replacement
// artifact family ("占쏙옙"); set B collects syllables produced by UTF-8
// bytes surviving an EUC-KR round trip. Both were collected empirically
// from mangled agency filenames.
var (
	artifactSetA = map[rune]struct{}{'占': {}, '쏙': {}, '옙': {}}
	artifactSetB = map[rune]struct{}{'뜝': {}, '럥': {}, '럩': {}, '뤂': {}, '슢': {}, '벝': {}, '걗': {}, '뷂': {}}
)

func hasArtifactSyllables(s string) bool {
	for _, r := range s {
		if _, ok := artifactSetA[r]; ok {
			return true
		}
		if _, ok := artifactSetB[r]; ok {
			return true
		}
	}
	return false
}

// hasKoreanSyllables reports whether s contains at least one composed
// Hangul syllable, the acceptance requirement for a repaired name.
func hasKoreanSyllables(s string) bool {
	for _, r := range s {
		if r >= 0xAC00 && r <= 0xD7A3 {
			return true
		}
	}
	return false
}

// roundTrip re-encodes s under enc and re-decodes the bytes under dec.
// Unrepresentable runes fail the step, which is what filters strategies
// that do not apply to the input at hand.
type roundTrip struct {
	name string
	enc  *encoding.Encoder
	dec  *encoding.Decoder
}

func (rt roundTrip) apply(s string) (string, bool) {
	raw, err := rt.enc.Bytes([]byte(s))
	if err != nil {
		return "", false
	}
	out, err := rt.dec.Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// repairStrategy is one ordered candidate transformation: one or two
// round-trips applied in sequence.
type repairStrategy struct {
	name  string
	trips []roundTrip
}

func (st repairStrategy) apply(s string) (string, bool) {
	out := s
	for _, rt := range st.trips {
		var ok bool
		out, ok = rt.apply(out)
		if !ok {
			return "", false
		}
	}
	return out, true
}

// utf8Codec adapts native UTF-8 to the encoder/decoder shape. Its decoder
// substitutes U+FFFD for ill-formed input, which the acceptance check then
// rejects, so malformed candidates filter themselves out.
var utf8Codec encoding.Encoding = unicode.UTF8

func latin1ToEUCKR() roundTrip {
	return roundTrip{
		name: "latin1->euckr",
		enc:  charmap.ISO8859_1.NewEncoder(),
		dec:  korean.EUCKR.NewDecoder(),
	}
}

func latin1ToUTF8() roundTrip {
	return roundTrip{
		name: "latin1->utf8",
		enc:  charmap.ISO8859_1.NewEncoder(),
		dec:  utf8Codec.NewDecoder(),
	}
}

func cp1252ToEUCKR() roundTrip {
	return roundTrip{
		name: "cp1252->euckr",
		enc:  charmap.Windows1252.NewEncoder(),
		dec:  korean.EUCKR.NewDecoder(),
	}
}

func euckrToUTF8() roundTrip {
	return roundTrip{
		name: "euckr->utf8",
		enc:  korean.EUCKR.NewEncoder(),
		dec:  utf8Codec.NewDecoder(),
	}
}

// strategies in priority order: the two double round-trips cover the two
// most common real-world corruptions applied twice (proxy plus origin both
// mis-declaring), then the four single-trip legacy/Unicode pairs.
//
// UTF-8-target trips sort before EUC-KR-target ones on purpose: decoding
// junk as UTF-8 fails loudly (replacement characters) while decoding junk as
// EUC-KR often yields plausible-looking syllables, so the stricter strategy
// must get first refusal.
func strategies() []repairStrategy {
	return []repairStrategy{
		{name: "double latin1->utf8", trips: []roundTrip{latin1ToUTF8(), latin1ToUTF8()}},
		{name: "double latin1->euckr", trips: []roundTrip{latin1ToEUCKR(), latin1ToEUCKR()}},
		{name: "latin1->utf8", trips: []roundTrip{latin1ToUTF8()}},
		{name: "latin1->euckr", trips: []roundTrip{latin1ToEUCKR()}},
		{name: "cp1252->euckr", trips: []roundTrip{cp1252ToEUCKR()}},
		{name: "euckr->utf8", trips: []roundTrip{euckrToUTF8()}},
	}
}

// RepairFileName runs the ordered strategy pipeline over a corrupted name,
// short-circuiting on the first candidate that contains valid Korean and is
// not itself flagged corrupted. A clean input is returned untouched, and so
// is an input nothing could repair.
func RepairFileName(s string) string {
	if !IsCorrupted(s) {
		return s
	}
	for _, st := range strategies() {
		candidate, ok := st.apply(s)
		if !ok {
			continue
		}
		if hasKoreanSyllables(candidate) && !IsCorrupted(candidate) {
			return candidate
		}
	}
	return s
}
