package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizradar-io/support-crawler/internal/fileutil"
	"github.com/bizradar-io/support-crawler/internal/model"
)

func docparseStub(t *testing.T, text string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/parse", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": ` + jsonString(text) + `}`))
	}))
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func hwpxFixture(t *testing.T, sections ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, body := range sections {
		name := "Contents/section" + string(rune('0'+i)) + ".xml"
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractUsesDocparse(t *testing.T) {
	srv := docparseStub(t, "지원대상: 중소기업", http.StatusOK)
	defer srv.Close()

	s := NewService(NewDocparseClient(srv.URL, time.Second), nil, 0, nil)
	text, err := s.Extract(context.Background(), "공고.hwp", fileutil.TypeHWP, []byte{0xD0, 0xCF})
	require.NoError(t, err)
	assert.Equal(t, "지원대상: 중소기업", text)
}

func TestExtractFallsBackToLocalHWPX(t *testing.T) {
	srv := docparseStub(t, "", http.StatusInternalServerError)
	defer srv.Close()

	data := hwpxFixture(t,
		`<sec><p><run>사업 개요 안내</run></p><p><run>신청 기간: 2025-09-01</run></p></sec>`)
	s := NewService(NewDocparseClient(srv.URL, time.Second), nil, 0, nil)

	text, err := s.Extract(context.Background(), "양식.hwpx", fileutil.TypeHWPX, data)
	require.NoError(t, err)
	assert.Contains(t, text, "사업 개요 안내")
	assert.Contains(t, text, "신청 기간: 2025-09-01")
}

func TestExtractLocalHWPXWithoutService(t *testing.T) {
	data := hwpxFixture(t, `<sec><p><t>모집 공고</t></p></sec>`)
	s := NewService(nil, nil, 0, nil)

	text, err := s.Extract(context.Background(), "공고.hwpx", fileutil.TypeHWPX, data)
	require.NoError(t, err)
	assert.Contains(t, text, "모집 공고")
}

func TestExtractHWPRequiresService(t *testing.T) {
	s := NewService(nil, nil, 0, nil)
	_, err := s.Extract(context.Background(), "공고.hwp", fileutil.TypeHWP, []byte{0xD0, 0xCF})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestExtractUnknownType(t *testing.T) {
	s := NewService(nil, nil, 0, nil)
	_, err := s.Extract(context.Background(), "파일.zip", fileutil.TypeUnknown, []byte("PK"))
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestExtractTruncates(t *testing.T) {
	long := strings.Repeat("가", 500)
	srv := docparseStub(t, long, http.StatusOK)
	defer srv.Close()

	s := NewService(NewDocparseClient(srv.URL, time.Second), nil, 100, nil)
	text, err := s.Extract(context.Background(), "공고.pdf", fileutil.TypePDF, []byte("%PDF-"))
	require.NoError(t, err)
	assert.Equal(t, 100, len([]rune(text)))
}

type stubAnalyzer struct {
	enrichment model.Enrichment
	err        error
	called     bool
}

func (a *stubAnalyzer) Analyze(_ context.Context, _, _ string) (model.Enrichment, error) {
	a.called = true
	return a.enrichment, a.err
}

func TestEnrichProjectFillsBlanksOnly(t *testing.T) {
	amount := int64(50_000_000)
	deadline := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	a := &stubAnalyzer{enrichment: model.Enrichment{
		Summary:       "분석 요약",
		Eligibility:   "분석 자격",
		FundingAmount: &amount,
		Deadline:      &deadline,
	}}
	s := NewService(nil, a, 0, nil)

	project := &model.SupportProject{Name: "스마트공장 지원사업", Description: "기존 설명"}
	s.EnrichProject(context.Background(), project, "parsed text")

	assert.True(t, a.called)
	assert.Equal(t, "기존 설명", project.Description, "existing field untouched")
	assert.Equal(t, "분석 자격", project.Eligibility)
	require.NotNil(t, project.FundingAmount)
	assert.Equal(t, amount, *project.FundingAmount)
	require.NotNil(t, project.Deadline)
}

func TestEnrichProjectSwallowsAnalyzerError(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("rate limited")}
	s := NewService(nil, a, 0, nil)

	project := &model.SupportProject{Name: "테스트 사업"}
	s.EnrichProject(context.Background(), project, "parsed text")
	assert.Empty(t, project.Description)
}

func TestEnrichProjectSkipsEmptyText(t *testing.T) {
	a := &stubAnalyzer{}
	s := NewService(nil, a, 0, nil)
	s.EnrichProject(context.Background(), &model.SupportProject{}, "")
	assert.False(t, a.called)
}
