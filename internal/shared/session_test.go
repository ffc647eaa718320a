package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", "secret", time.Hour, false), mr
}

func commitAndCookie(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, req, sess))
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set(SessionKeyAuthToken, "tok-123")
	cookie := commitAndCookie(t, sm, sess)
	assert.Equal(t, sess.ID, cookie.Value)
	assert.True(t, mr.Exists("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "tok-123", loaded.AuthToken())
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newTestManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "attacker-chosen"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "attacker-chosen", sess.ID)
	assert.Empty(t, sess.AuthToken())
}

func TestFlashSurvivesRedirect(t *testing.T) {
	sm, _ := newTestManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	sess.AddFlash(FlashMessage{Kind: "error", Message: "Company is not active"})
	cookie := commitAndCookie(t, sm, sess)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	next, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	flash := next.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Company is not active", flash.Message)
	commitAndCookie(t, sm, next)

	again, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, again.PopFlash())
}

func TestDestroyExpiresCookie(t *testing.T) {
	sm, mr := newTestManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	commitAndCookie(t, sm, sess)
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	cookie := commitAndCookie(t, sm, sess)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.False(t, mr.Exists("session:"+sess.ID))
}

func TestCSRFTokenLifecycle(t *testing.T) {
	sm, _ := newTestManager(t)
	csrf := NewCSRFManager("csrfsecret")

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(context.Background(), sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, "nope"), ErrCSRFTokenMismatch)

	_, err = csrf.EnsureToken(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestRenewMovesSessionToFreshID(t *testing.T) {
	sm, mr := newTestManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set(SessionKeyAuthToken, "first")
	commitAndCookie(t, sm, sess)
	oldID := sess.ID

	sm.Renew(sess)
	require.NotEqual(t, oldID, sess.ID)
	cookie := commitAndCookie(t, sm, sess)
	assert.Equal(t, sess.ID, cookie.Value)
	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "first", loaded.AuthToken())
}

func TestFingerprintHidesSessionID(t *testing.T) {
	sm, _ := newTestManager(t)
	other := NewSessionManager(nil, "test_session", "another-secret", time.Hour, false)

	fp := sm.Fingerprint("0210dbed-aaaa-bbbb-cccc-000000000001")
	assert.Len(t, fp, 64)
	assert.NotContains(t, fp, "0210dbed")
	assert.Equal(t, fp, sm.Fingerprint("0210dbed-aaaa-bbbb-cccc-000000000001"))
	assert.NotEqual(t, fp, sm.Fingerprint("0210dbed-aaaa-bbbb-cccc-000000000002"))
	assert.NotEqual(t, fp, other.Fingerprint("0210dbed-aaaa-bbbb-cccc-000000000001"))
}
