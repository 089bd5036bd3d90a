package fileutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
)

// euckrAsLatin1 reproduces the classic corruption: the server stores the
// name in EUC-KR but declares ISO-8859-1, so each byte arrives as one
// high Latin-1 rune.
func euckrAsLatin1(t *testing.T, s string) string {
	t.Helper()
	raw, err := korean.EUCKR.NewEncoder().String(s)
	require.NoError(t, err)
	out, err := charmap.ISO8859_1.NewDecoder().String(raw)
	require.NoError(t, err)
	return out
}

// utf8AsLatin1 reproduces the other common corruption: UTF-8 bytes read
// one byte per rune under ISO-8859-1.
func utf8AsLatin1(t *testing.T, s string) string {
	t.Helper()
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	require.NoError(t, err)
	return out
}

func TestRepairFileNameRoundTrip(t *testing.T) {
	names := []string{
		"2025년 창업지원사업 공고문.hwp",
		"사업계획서 양식.hwpx",
		"지원사업 안내 (수정).pdf",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scrambledEUCKR := euckrAsLatin1(t, name)
			require.NotEqual(t, name, scrambledEUCKR)
			assert.Equal(t, name, RepairFileName(scrambledEUCKR), "euc-kr read as latin-1")

			scrambledUTF8 := utf8AsLatin1(t, name)
			require.NotEqual(t, name, scrambledUTF8)
			assert.Equal(t, name, RepairFileName(scrambledUTF8), "utf-8 read as latin-1")
		})
	}
}

func TestRepairFileNameDoubleScramble(t *testing.T) {
	name := "사업공고.hwp"
	once := utf8AsLatin1(t, name)
	twice := utf8AsLatin1(t, once)
	require.NotEqual(t, once, twice)
	assert.Equal(t, name, RepairFileName(twice))
}

func TestRepairFileNameCleanNoOp(t *testing.T) {
	clean := []string{
		"",
		"2025년 창업지원사업 공고문.hwp",
		"annual_report_2025.pdf",
		"café-menu.pdf",
	}
	for _, name := range clean {
		assert.Equal(t, name, RepairFileName(name))
	}
}

func TestRepairFileNameUnrecoverable(t *testing.T) {
	// Replacement characters carry no byte information, so nothing can be
	// reconstructed; the original comes back untouched.
	name := "���.hwp"
	assert.Equal(t, name, RepairFileName(name))
}

func TestIsCorrupted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"clean korean", "창업지원사업 공고.hwp", false},
		{"clean ascii", "report_final.pdf", false},
		{"single accented rune ok", "café.pdf", false},
		{"replacement char", "공고�.hwp", true},
		{"jamo run", "ㄱㅏㄴㄷ.hwp", true},
		{"latin1 run", "»ç¾÷°ø°í.hwp", true},
		{"long cjk run", "檔案名稱測試.hwp", true},
		{"short hanja ok", "중소기업 支援 공고.hwp", false},
		{"artifact set a", "占쏙옙占쏙옙.hwp", true},
		{"artifact set b", "뜝럥공고.hwp", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCorrupted(tt.in))
		})
	}
}
