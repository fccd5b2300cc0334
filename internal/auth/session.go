package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	keyUser       = "user"
	keyIssuedAt   = "iat"
	keyLastActive = "lat"
	keyCSRF       = "csrf"
)

// Sessions は管理セッション用の Cookie ストアを設定するミドルウェアです。secure は HTTPS 配信時に true にします。
func (m *Manager) Sessions(secure bool) gin.HandlerFunc {
	secret := m.secret
	if secret == "" {
		// configured が失敗するのでこの鍵でログインすることはない
		secret = "insecure-development-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return sessions.Sessions(SessionCookieName, store)
}

// adminSession は Cookie に保存する管理セッションの中身です。
type adminSession struct {
	User       string
	IssuedAt   time.Time
	LastActive time.Time
	CSRF       string
}

func loadSession(s sessions.Session) adminSession {
	user, _ := s.Get(keyUser).(string)
	csrf, _ := s.Get(keyCSRF).(string)
	return adminSession{
		User:       user,
		IssuedAt:   unixValue(s.Get(keyIssuedAt)),
		LastActive: unixValue(s.Get(keyLastActive)),
		CSRF:       csrf,
	}
}

func (a adminSession) save(s sessions.Session) error {
	s.Set(keyUser, a.User)
	s.Set(keyIssuedAt, a.IssuedAt.Unix())
	s.Set(keyLastActive, a.LastActive.Unix())
	s.Set(keyCSRF, a.CSRF)
	return s.Save()
}

func (a adminSession) expiresAt() time.Time {
	return a.IssuedAt.Add(maxSessionLifetime)
}

// check は now 時点でセッションが使えるかを判定し、使えない場合はエラーコードとメッセージを返します。
func (a adminSession) check(now time.Time) (code, message string) {
	switch {
	case a.User == "":
		return "UNAUTHORIZED", "ログインが必要です"
	case a.IssuedAt.IsZero() || !now.Before(a.expiresAt()):
		return "SESSION_EXPIRED", "セッションの有効期限が切れました"
	case a.LastActive.IsZero() || now.Sub(a.LastActive) > idleTimeout:
		return "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください"
	}
	return "", ""
}

// unixValue はセッションに保存した Unix 秒を時刻に戻します。
func unixValue(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	}
	return time.Time{}
}
