package detail

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/fetch"
	"github.com/bizradar-io/support-crawler/internal/model"
)

type stubFetcher struct {
	body    string
	cookies []*http.Cookie
}

func (s *stubFetcher) Fetch(_ context.Context, url string, _ fetch.Options) (fetch.Response, error) {
	return fetch.Response{
		URL:        url,
		StatusCode: 200,
		Body:       []byte(s.body),
		Cookies:    s.cookies,
	}, nil
}

func resolve(t *testing.T, family model.SiteFamily, url, body string) Result {
	t.Helper()
	r := NewResolver(&stubFetcher{body: body, cookies: []*http.Cookie{{Name: "JSESSIONID", Value: "abc"}}}, 0, zap.NewNop())
	res, err := r.Resolve(context.Background(), family, url)
	require.NoError(t, err)
	return res
}

func TestResolve_Bizinfo_DirectAnchors(t *testing.T) {
	t.Parallel()

	body := `<html><div class="view">
		<a href="/cmm/fms/FileDown.do?atchFileId=F001&fileSn=0">공고문.hwp (1.2MB)</a>
		<a href="/cmm/fms/FileDown.do?atchFileId=F001&fileSn=1">신청서식.hwp</a>
		<a href="/web/other/page.do">다른 페이지</a>
	</div></html>`

	res := resolve(t, model.FamilyBizinfo, "https://www.bizinfo.go.kr/web/view.do?id=1", body)
	require.Len(t, res.Attachments, 2)
	assert.Equal(t, "공고문.hwp", res.Attachments[0].FileName)
	assert.Equal(t, "https://www.bizinfo.go.kr/cmm/fms/FileDown.do?atchFileId=F001&fileSn=0", res.Attachments[0].URL)
	require.Len(t, res.Cookies, 1)
	assert.Equal(t, "JSESSIONID", res.Cookies[0].Name)
}

func TestResolve_KStartup_JSTriggeredButtons(t *testing.T) {
	t.Parallel()

	body := `<html><div class="attach">
		<a href="javascript:void(0)" onclick="fn_fileDown('98765')">사업공고문.pdf 다운로드</a>
		<button onclick="fn_fileDown('98766')">신청양식.hwpx</button>
		<a href="javascript:go_list()">목록</a>
	</div></html>`

	res := resolve(t, model.FamilyKStartup, "https://www.k-startup.go.kr/web/contents/view.do?pbancSn=1", body)
	require.Len(t, res.Attachments, 2)
	assert.Equal(t, "사업공고문.pdf", res.Attachments[0].FileName)
	assert.Equal(t, "https://www.k-startup.go.kr/afile/fileDownload/98765", res.Attachments[0].URL)
	assert.Equal(t, "https://www.k-startup.go.kr/afile/fileDownload/98766", res.Attachments[1].URL)
}

func TestResolve_Technopark_HeadingRelativeList(t *testing.T) {
	t.Parallel()

	body := `<html><table class="view">
		<tr><th>작성자</th><td>기업지원팀</td></tr>
		<tr><th>첨부파일</th><td><ul>
			<li><a href="/board/download.php?idx=482&no=1">모집공고.hwp</a></li>
			<li><a href="/board/download.php?idx=482&no=2">사업계획서식.hwp</a></li>
		</ul></td></tr>
	</table>
	<div class="nav"><a href="/board/list.php">목록으로</a></div></html>`

	res := resolve(t, model.FamilyTechnopark, "https://www.btp.or.kr/board/view.php?idx=482", body)
	require.Len(t, res.Attachments, 2)
	assert.Equal(t, "모집공고.hwp", res.Attachments[0].FileName)
	assert.Equal(t, "https://www.btp.or.kr/board/download.php?idx=482&no=1", res.Attachments[0].URL)
}

func TestResolve_DuplicateURLsCollapse(t *testing.T) {
	t.Parallel()

	body := `<html>
		<a href="/cmm/fms/FileDown.do?atchFileId=F1">공고문.hwp</a>
		<a href="/cmm/fms/FileDown.do?atchFileId=F1">공고문.hwp</a>
	</html>`

	res := resolve(t, model.FamilyBizinfo, "https://www.bizinfo.go.kr/v.do", body)
	assert.Len(t, res.Attachments, 1)
}

func TestResolve_EmptyDetailURL(t *testing.T) {
	t.Parallel()

	r := NewResolver(&stubFetcher{}, 0, zap.NewNop())
	res, err := r.Resolve(context.Background(), model.FamilyBizinfo, "")
	require.NoError(t, err)
	assert.Empty(t, res.Attachments)
}
