package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/barrierfree-rail/internal/config"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewManager(&config.Config{
		AppUsername:     "admin",
		AppPasswordHash: string(hash),
		SessionSecret:   "test-secret",
	}, nil)

	r := gin.New()
	r.Use(m.Sessions(false))
	m.Register(r.Group("/auth"))
	protected := r.Group("/admin", m.RequireLogin(), m.VerifyCSRF())
	protected.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextUserKey)) })
	return r, m
}

func do(r http.Handler, method, path, body string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler) ([]*http.Cookie, string) {
	t.Helper()
	w := do(r, http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"admin"`)
	token := w.Header().Get(CSRFHeader)
	require.NotEmpty(t, token)
	return w.Result().Cookies(), token
}

func TestLoginAndCSRF(t *testing.T) {
	r, _ := newTestRouter(t)
	cookies, token := login(t, r)

	w := do(r, http.MethodGet, "/auth/me", "", cookies, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"admin"`)
	require.Equal(t, token, w.Header().Get(CSRFHeader))

	w = do(r, http.MethodPost, "/admin/ping", "", cookies, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/admin/ping", "", cookies, map[string]string{CSRFHeader: "wrong"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "CSRF_INVALID")

	w = do(r, http.MethodPost, "/admin/ping", "", cookies, map[string]string{CSRFHeader: token})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "admin", w.Body.String())
}

func TestRequireLoginWithoutSession(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/auth/me", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestIdleTimeout(t *testing.T) {
	r, m := newTestRouter(t)
	cookies, _ := login(t, r)

	base := time.Now()
	m.now = func() time.Time { return base.Add(idleTimeout + time.Minute) }
	w := do(r, http.MethodGet, "/auth/me", "", cookies, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "SESSION_IDLE_TIMEOUT")
}

func TestLoginLockout(t *testing.T) {
	r, m := newTestRouter(t)
	bad := `{"username":"admin","password":"nope"}`

	for i := 0; i < maxLoginAttempts; i++ {
		w := do(r, http.MethodPost, "/auth/login", bad, nil, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	// 正しいパスワードでもロック中は拒否される
	w := do(r, http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	base := time.Now()
	m.now = func() time.Time { return base.Add(lockDuration + time.Second) }
	login(t, r)
}

func TestLoginWrongUsername(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/auth/login", `{"username":"root","password":"s3cret"}`, nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), `"remainingAttempts":4`)
}

func TestLoginMisconfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(&config.Config{}, nil)
	r := gin.New()
	r.Use(m.Sessions(false))
	m.Register(r.Group("/auth"))

	w := do(r, http.MethodPost, "/auth/login", `{"username":"a","password":"b"}`, nil, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionLifetime(t *testing.T) {
	r, m := newTestRouter(t)
	cookies, _ := login(t, r)

	// 操作を続けていても発行から maxSessionLifetime で切れる
	base := time.Now()
	m.now = func() time.Time { return base.Add(maxSessionLifetime + time.Minute) }
	w := do(r, http.MethodGet, "/auth/me", "", cookies, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "SESSION_EXPIRED")
}

func TestLogout(t *testing.T) {
	r, _ := newTestRouter(t)
	cookies, _ := login(t, r)

	w := do(r, http.MethodPost, "/auth/logout", "", cookies, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/auth/me", "", w.Result().Cookies(), nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginLimiterWindow(t *testing.T) {
	l := newLoginLimiter(3, time.Minute, time.Hour)
	start := time.Now()

	remaining, locked := l.fail("ip", start)
	require.Equal(t, 2, remaining)
	require.False(t, locked)

	// 窓を過ぎた失敗は数え直す
	remaining, _ = l.fail("ip", start.Add(2*time.Minute))
	require.Equal(t, 2, remaining)
	l.fail("ip", start.Add(2*time.Minute))
	remaining, locked = l.fail("ip", start.Add(2*time.Minute))
	require.Zero(t, remaining)
	require.True(t, locked)
	require.Greater(t, l.retryAfter("ip", start.Add(3*time.Minute)), time.Duration(0))
	require.Zero(t, l.retryAfter("other", start))

	l.reset("ip")
	require.Zero(t, l.retryAfter("ip", start.Add(3*time.Minute)))
}

func TestLoginLimiterEvictsExpiredEntries(t *testing.T) {
	l := newLoginLimiter(3, time.Minute, time.Hour)
	start := time.Now()

	l.fail("a", start)
	l.fail("b", start)
	for i := 0; i < 3; i++ {
		l.fail("locked", start)
	}
	require.Len(t, l.byKey, 3)

	// 窓を過ぎた記録は捨てるが、ロック中の記録は残す
	l.fail("c", start.Add(2*time.Minute))
	require.Len(t, l.byKey, 2)
	require.Contains(t, l.byKey, "locked")
	require.Contains(t, l.byKey, "c")

	require.Zero(t, l.retryAfter("c", start.Add(2*time.Hour)))
	require.Empty(t, l.byKey)
}
