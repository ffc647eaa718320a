package selection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity-erp/infinity/internal/companies"
	"github.com/infinity-erp/infinity/internal/shared"
	"github.com/infinity-erp/infinity/internal/view"
	"github.com/infinity-erp/infinity/jobs"
)

type recordingQueue struct {
	mu       sync.Mutex
	payloads []jobs.SelectionRecordPayload
	err      error
}

func (q *recordingQueue) EnqueueSelectionRecord(_ context.Context, payload jobs.SelectionRecordPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return q.err
}

type handlerFixture struct {
	router   chi.Router
	sessions *shared.SessionManager
	sess     *shared.Session
	queue    *recordingQueue
	fetcher  *stubFetcher
}

func newHandlerFixture(t *testing.T, fetcher *stubFetcher) *handlerFixture {
	t.Helper()
	store, _ := newTestStore(t)
	engine, err := view.NewEngine()
	require.NoError(t, err)

	sessions := shared.NewSessionManager(nil, "infinity_session", "secret", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set(shared.SessionKeyAuthToken, "tok")

	f := &handlerFixture{sessions: sessions, sess: sess, queue: &recordingQueue{}, fetcher: fetcher}
	handler := NewHandler(nil, NewService(fetcher, store, nil), engine, sessions, shared.NewCSRFManager("csrf"), f.queue, 0)
	handler.now = func() time.Time { return time.Date(2024, 4, 1, 9, 30, 0, 0, time.FixedZone("WIB", 7*3600)) }

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), f.sess)))
		})
	})
	handler.MountRoutes(r)
	f.router = r
	return f
}

func (f *handlerFixture) get(target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *handlerFixture) post(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeCompanies(t *testing.T, raw string) []companies.Company {
	t.Helper()
	var list []companies.Company
	require.NoError(t, json.Unmarshal([]byte(raw), &list))
	return list
}

func TestMountSingleCompanyRedirectsToCompanyLogin(t *testing.T) {
	list := decodeCompanies(t, `[{"companyId":7,"companyName":"Solo","connectionStatus":"Online","financialYear":"2024-25"}]`)
	f := newHandlerFixture(t, &stubFetcher{list: list})

	rr := f.get(PathSelection)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathCompanyLogin, rr.Header().Get("Location"))

	stored := f.sess.Get(shared.SessionKeySelectedCompany)
	assert.JSONEq(t, `{"companyId":7,"companyName":"Solo","connectionStatus":"Online","financialYear":"2024-25","isActive":true}`, stored)

	require.Len(t, f.queue.payloads, 1)
	payload := f.queue.payloads[0]
	assert.Equal(t, "auto", payload.Mode)
	assert.Equal(t, "7", payload.CompanyID)
	assert.NotEqual(t, f.sess.ID, payload.SessionID)
	assert.NotContains(t, payload.SessionID, f.sess.ID)
	assert.Equal(t, f.sessions.Fingerprint(f.sess.ID), payload.SessionID)
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, time.UTC, payload.SelectedAt.Location())
}

func TestMountRendersOneCardPerCompany(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})

	rr := f.get(PathSelection)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	body := rr.Body.String()
	assert.Equal(t, 3, strings.Count(body, `class="card-form"`))
	assert.Contains(t, body, "Acme")
	assert.Contains(t, body, "Beta")
	assert.Contains(t, body, `data-active="false"`)
	assert.Empty(t, f.sess.Get(shared.SessionKeySelectedCompany))
	assert.Empty(t, f.queue.payloads)
}

func TestMountEmptyListRendersEmptyGrid(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: []companies.Company{}})

	rr := f.get(PathSelection)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `class="card-form"`)
	assert.Contains(t, rr.Body.String(), "No companies found")
}

func TestMountFailureRendersErrorPanel(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{err: errors.New("401 from upstream")})

	rr := f.get(PathSelection)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "Error fetching companies")
	assert.NotContains(t, rr.Body.String(), "401")
	assert.NotContains(t, rr.Body.String(), `class="card-form"`)
}

func TestFilterUsesStoredList(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.get(pathView + "?q=AC&search=1")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Equal(t, 2, strings.Count(body, `class="card-form"`))
	assert.Contains(t, body, "Acme")
	assert.Contains(t, body, "ACE Ltd")
	assert.NotContains(t, body, "Beta")
	assert.Contains(t, body, `value="AC"`)
	assert.Contains(t, body, "data-live-filter")
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
}

func TestSearchToggleKeepsFilterText(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	hidden := f.get(pathView + "?q=ac").Body.String()
	assert.NotContains(t, hidden, "data-live-filter")
	assert.Contains(t, hidden, "q=ac&amp;search=1")
	assert.Equal(t, 2, strings.Count(hidden, `class="card-form"`))

	shown := f.get(pathView + "?q=ac&search=1").Body.String()
	assert.Contains(t, shown, "data-live-filter")
	assert.Contains(t, shown, `/CompanySelection/view?q=ac"`)
}

func TestViewPartialRendersGridOnly(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.get(pathView + "?q=beta&partial=grid")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.NotContains(t, body, "<html")
	assert.Contains(t, body, `id="company-grid"`)
	assert.Equal(t, 1, strings.Count(body, `class="card-form"`))
}

func TestViewAsJSON(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.get(pathView+"?q=ac", "Accept", "application/json")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp struct {
		Query     string            `json:"query"`
		Total     int               `json:"total"`
		Companies []json.RawMessage `json:"companies"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ac", resp.Query)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Companies, 2)
	assert.JSONEq(t, `{"companyId":"1","companyName":"Acme","connectionStatus":"Online","isActive":true}`, string(resp.Companies[0]))
}

func TestViewWithoutStoredListRemounts(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})

	rr := f.get(pathView + "?q=ac")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathSelection, rr.Header().Get("Location"))

	rr = f.get(pathView, "Accept", "application/json")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestSelectInactiveFlashesAndKeepsState(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.post(pathSelect, url.Values{"ref": {"1"}, "name": {"Beta"}, "q": {"be"}, "search": {"1"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, pathView+"?q=be&search=1", rr.Header().Get("Location"))
	assert.Empty(t, f.sess.Get(shared.SessionKeySelectedCompany))
	assert.Empty(t, f.queue.payloads)

	page := f.get(pathView + "?q=be&search=1")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Company is not active")
	assert.Contains(t, page.Body.String(), `value="be"`)

	again := f.get(pathView + "?q=be&search=1")
	assert.NotContains(t, again.Body.String(), "Company is not active")
}

func TestSelectInactiveLeavesEarlierSelection(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	require.Equal(t, http.StatusSeeOther, f.post(pathSelect, url.Values{"ref": {"2"}, "name": {"ACE Ltd"}}).Code)
	before := f.sess.Get(shared.SessionKeySelectedCompany)
	require.NotEmpty(t, before)

	rr := f.post(pathSelect, url.Values{"ref": {"1"}, "name": {"Beta"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, before, f.sess.Get(shared.SessionKeySelectedCompany))
	assert.Len(t, f.queue.payloads, 1)
}

func TestGridPartialKeepsPendingFlash(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)
	require.Equal(t, http.StatusSeeOther, f.post(pathSelect, url.Values{"ref": {"1"}, "name": {"Beta"}}).Code)

	partial := f.get(pathView + "?q=b&partial=grid")
	require.Equal(t, http.StatusOK, partial.Code)
	assert.NotContains(t, partial.Body.String(), "Company is not active")

	page := f.get(pathView + "?q=b")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Company is not active")
}

func TestSelectActivePersistsAndRedirects(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.post(pathSelect, url.Values{"ref": {"2"}, "name": {"ACE Ltd"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathCompanyLogin, rr.Header().Get("Location"))
	assert.JSONEq(t, `{"companyId":"3","companyName":"ACE Ltd","connectionStatus":"Online","isActive":true}`, f.sess.Get(shared.SessionKeySelectedCompany))

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, "manual", f.queue.payloads[0].Mode)
	assert.Equal(t, "ACE Ltd", f.queue.payloads[0].CompanyName)
}

func TestSelectSurvivesQueueFailure(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	f.queue.err = errors.New("redis down")
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.post(pathSelect, url.Values{"ref": {"0"}, "name": {"Acme"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathCompanyLogin, rr.Header().Get("Location"))
}

func TestSelectUnknownCompany(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})
	require.Equal(t, http.StatusOK, f.get(PathSelection).Code)

	rr := f.post(pathSelect, url.Values{"ref": {"0"}, "name": {"Someone else"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, pathView, rr.Header().Get("Location"))
	assert.Contains(t, f.get(pathView).Body.String(), "Company not found")
}

func TestSelectAfterViewExpiredRemounts(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})

	rr := f.post(pathSelect, url.Values{"ref": {"0"}, "name": {"Acme"}})
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathSelection, rr.Header().Get("Location"))
}

func TestReloadShowsSpinnerThenMount(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})

	rr := f.post(pathReload, url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `data-reload-target="/CompanySelection"`)
	assert.Contains(t, body, `data-reload-delay="500"`)
	assert.Contains(t, body, `class="spinner"`)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
}

func TestCompanyLogin(t *testing.T) {
	f := newHandlerFixture(t, &stubFetcher{list: sampleCompanies()})

	rr := f.get(PathCompanyLogin)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, PathSelection, rr.Header().Get("Location"))

	f.sess.Set(shared.SessionKeySelectedCompany, `{"companyId":"1","companyName":"Acme","connectionStatus":"Online","isActive":true}`)
	rr = f.get(PathCompanyLogin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Acme")

	f.sess.Set(shared.SessionKeySelectedCompany, `not json`)
	rr = f.get(PathCompanyLogin)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Empty(t, f.sess.Get(shared.SessionKeySelectedCompany))
}

func TestViewURL(t *testing.T) {
	assert.Equal(t, pathView, viewURL("", false))
	assert.Equal(t, pathView+"?search=1", viewURL("", true))
	assert.Equal(t, pathView+"?q=a+b", viewURL("a b", false))
}
