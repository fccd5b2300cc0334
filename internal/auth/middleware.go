package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

func deny(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// RequireLogin は管理セッションを検証し、最終操作時刻を更新します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		state := loadSession(s)
		now := m.now()

		if code, message := state.check(now); code != "" {
			if state.User != "" {
				s.Clear()
				_ = s.Save()
			}
			deny(c, http.StatusUnauthorized, code, message)
			return
		}

		state.LastActive = now
		if err := state.save(s); err != nil {
			deny(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました")
			return
		}
		c.Set(ContextUserKey, state.User)
		c.Next()
	}
}

// VerifyCSRF は GET 以外の管理操作で CSRFHeader がセッションのトークンと一致するかを検証します。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		expected := loadSession(sessions.Default(c)).CSRF
		if expected == "" {
			deny(c, http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが発行されていません")
			return
		}
		got := c.GetHeader(CSRFHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			deny(c, http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません")
			return
		}
		c.Next()
	}
}
