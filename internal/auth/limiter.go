package auth

import (
	"sync"
	"time"
)

type attemptWindow struct {
	failures    int
	started     time.Time
	lockedUntil time.Time
}

// loginLimiter は IP ごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
type loginLimiter struct {
	limit  int
	window time.Duration
	lock   time.Duration

	mu    sync.Mutex
	byKey map[string]*attemptWindow
}

func newLoginLimiter(limit int, window, lock time.Duration) *loginLimiter {
	return &loginLimiter{limit: limit, window: window, lock: lock, byKey: map[string]*attemptWindow{}}
}

// retryAfter はロック中ならロック解除までの時間を返します。
func (l *loginLimiter) retryAfter(ip string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)
	w, ok := l.byKey[ip]
	if !ok || !now.Before(w.lockedUntil) {
		return 0
	}
	return w.lockedUntil.Sub(now)
}

// fail は失敗を1回記録し、ロックまでの残り回数と今回ロックしたかを返します。
func (l *loginLimiter) fail(ip string, now time.Time) (remaining int, locked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)
	w, ok := l.byKey[ip]
	if !ok || now.Sub(w.started) > l.window {
		w = &attemptWindow{started: now}
		l.byKey[ip] = w
	}
	if w.failures < l.limit {
		w.failures++
	}
	if w.failures == l.limit {
		w.lockedUntil = now.Add(l.lock)
		// ロック解除後は新しい窓で数え直す
		w.started = w.lockedUntil
		w.failures = 0
		return 0, true
	}
	return l.limit - w.failures, false
}

// evict は窓もロックも過ぎた記録を捨てます。呼び出し側でロックを取ります。
func (l *loginLimiter) evict(now time.Time) {
	for ip, w := range l.byKey {
		if now.Sub(w.started) > l.window && !now.Before(w.lockedUntil) {
			delete(l.byKey, ip)
		}
	}
}

func (l *loginLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, ip)
}
