// Package auth は管理画面の単一アカウント認証を提供します。
// パスワードは bcrypt で照合し、状態は署名付き Cookie セッションに持ちます。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/barrierfree-rail/internal/config"
)

// SessionCookieName は管理セッションの Cookie 名です。
const SessionCookieName = "bf_session"

// CSRFHeader はダブルサブミット用のヘッダー名です。
const CSRFHeader = "X-CSRF-Token"

// ContextUserKey はログイン済みの管理者名を gin.Context に載せるキーです。
const ContextUserKey = "auth.user"

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds は Cookie の MaxAge です。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager は管理者アカウントの照合とセッションの検証を行います。
type Manager struct {
	username     string
	passwordHash string
	secret       string
	logger       *zap.Logger
	now          func() time.Time
	limiter      *loginLimiter
}

// NewManager は設定の管理者アカウントで Manager を作成します。
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		username:     cfg.AppUsername,
		passwordHash: cfg.AppPasswordHash,
		secret:       cfg.SessionSecret,
		logger:       logger,
		now:          time.Now,
		limiter:      newLoginLimiter(maxLoginAttempts, loginWindow, lockDuration),
	}
}

// configured はログインに必要な設定が揃っているかを確認します。
func (m *Manager) configured() error {
	var missing []error
	if m.username == "" {
		missing = append(missing, errors.New("APP_USERNAME が設定されていません"))
	}
	if m.passwordHash == "" {
		missing = append(missing, errors.New("APP_PASSWORD_HASH が設定されていません"))
	}
	if m.secret == "" {
		missing = append(missing, errors.New("SESSION_SECRET が設定されていません"))
	}
	return errors.Join(missing...)
}

func (m *Manager) verify(username, password string) bool {
	// ユーザー名が違っても bcrypt を実行して応答時間を揃える
	hashOK := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)) == nil
	return hashOK && username == m.username
}

func newCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
