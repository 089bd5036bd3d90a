package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func testClient(t *testing.T) *CollyClient {
	t.Helper()
	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return NewCollyClient(CollyConfig{UserAgent: "support-crawler-test", Timeout: 5 * time.Second}, retry, zap.NewNop())
}

func TestCollyClient_FetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "support-crawler-test", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>목록</body></html>"))
	}))
	defer srv.Close()

	resp, err := testClient(t).Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "목록")
	assert.False(t, resp.UsedBrowser)
}

func TestCollyClient_Retries5xx(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	resp, err := testClient(t).Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCollyClient_404NotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := testClient(t).Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCollyClient_SendsHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://ref.example", r.Header.Get("Referer"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Referer", "https://ref.example")
	_, err := testClient(t).Fetch(context.Background(), srv.URL, Options{Headers: headers})
	require.NoError(t, err)
}

func TestAllowlist(t *testing.T) {
	t.Parallel()

	al := NewAllowlist([]string{"btp.or.kr", "Gtp.OR.kr "})
	assert.True(t, al.Contains("btp.or.kr"))
	assert.True(t, al.Contains("www.btp.or.kr"))
	assert.True(t, al.Contains("gtp.or.kr"))
	assert.False(t, al.Contains("bizinfo.go.kr"))
	assert.False(t, al.Contains("notbtp.or.kr"))
}

func TestRouter_RoutesByHost(t *testing.T) {
	t.Parallel()

	plain := &stubClient{}
	browser := &stubClient{browser: true}
	router := NewRouter(plain, browser, NewAllowlist([]string{"btp.or.kr"}), zap.NewNop())

	resp, err := router.Fetch(context.Background(), "https://www.btp.or.kr/board/list", Options{})
	require.NoError(t, err)
	assert.True(t, resp.UsedBrowser)

	resp, err = router.Fetch(context.Background(), "https://www.bizinfo.go.kr/list", Options{})
	require.NoError(t, err)
	assert.False(t, resp.UsedBrowser)
}

func TestBrowser_UsableDespiteStatus(t *testing.T) {
	t.Parallel()

	b := NewBrowser(BrowserConfig{MinBodyBytes: 1024, MinTableRows: 3}, zap.NewNop())

	rows := strings.Repeat("<tr><td>사업공고</td></tr>", 5)
	assert.True(t, b.usableDespiteStatus([]byte("<html><table>"+rows+"</table></html>")))
	assert.True(t, b.usableDespiteStatus([]byte(strings.Repeat("x", 2048))))
	assert.False(t, b.usableDespiteStatus([]byte("<html><h1>403 Forbidden</h1></html>")))
}

type stubClient struct {
	browser bool
}

func (s *stubClient) Fetch(_ context.Context, url string, _ Options) (Response, error) {
	return Response{URL: url, StatusCode: 200, UsedBrowser: s.browser}, nil
}
