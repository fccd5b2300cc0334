package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionInfo struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register は管理者のログイン・ログアウト・セッション確認のルートを登録します。
func (m *Manager) Register(rg *gin.RouterGroup) {
	rg.POST("/login", m.Login)
	rg.POST("/logout", m.Logout)
	rg.GET("/me", m.RequireLogin(), m.Me)
}

// Login は管理者アカウントを照合して新しいセッションを発行します。
// CSRF トークンはレスポンスヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		deny(c, http.StatusBadRequest, "INVALID_INPUT", "username と password を JSON で送ってください")
		return
	}
	if err := m.configured(); err != nil {
		m.logger.Error("admin account is not configured", zap.Error(err))
		deny(c, http.StatusInternalServerError, "SERVER_MISCONFIGURATION", "管理者アカウントが設定されていません")
		return
	}

	ip := c.ClientIP()
	now := m.now()
	if wait := m.limiter.retryAfter(ip, now); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		deny(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "ログイン試行が多すぎます。しばらくしてから再度お試しください")
		return
	}

	if !m.verify(req.Username, req.Password) {
		remaining, locked := m.limiter.fail(ip, now)
		if locked {
			m.logger.Warn("admin login locked", zap.String("ip", ip), zap.Duration("for", lockDuration))
		} else {
			m.logger.Info("admin login failed", zap.String("ip", ip), zap.Int("remaining", remaining))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}
	m.limiter.reset(ip)

	token, err := newCSRFToken()
	if err != nil {
		m.logger.Error("failed to generate csrf token", zap.Error(err))
		deny(c, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "CSRF トークンの生成に失敗しました")
		return
	}

	s := sessions.Default(c)
	// 以前のセッションの値は引き継がない
	s.Clear()
	state := adminSession{User: m.username, IssuedAt: now, LastActive: now, CSRF: token}
	if err := state.save(s); err != nil {
		deny(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました")
		return
	}

	m.logger.Info("admin logged in", zap.String("ip", ip))
	c.Header(CSRFHeader, token)
	c.JSON(http.StatusOK, sessionInfo{Username: state.User, ExpiresAt: state.expiresAt()})
}

// Logout はセッション Cookie を破棄します。未ログインでも成功します。
func (m *Manager) Logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		deny(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの削除に失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}

// Me はログイン中の管理者を返します。画面の再読み込みに備えて CSRF トークンも再送します。
func (m *Manager) Me(c *gin.Context) {
	state := loadSession(sessions.Default(c))
	if state.CSRF != "" {
		c.Header(CSRFHeader, state.CSRF)
	}
	c.JSON(http.StatusOK, sessionInfo{Username: state.User, ExpiresAt: state.expiresAt()})
}
