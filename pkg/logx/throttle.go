package logx

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates repetitive log lines per key. Suppressed lines are counted
// and reported on the next allowed line as "suppressed=N".
type Throttle struct {
	every time.Duration

	mu   sync.Mutex
	keys map[string]*throttleKey
}

type throttleKey struct {
	lim        *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottle allows one line per key every interval (burst 1).
func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = time.Second
	}
	return &Throttle{every: every, keys: map[string]*throttleKey{}}
}

// Allow reports whether a line for key may be written now. When it returns
// true, the returned count holds how many lines were dropped since the last one.
func (t *Throttle) Allow(key string) (bool, int64) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	k := t.keys[key]
	if k == nil {
		k = &throttleKey{lim: rate.NewLimiter(rate.Every(t.every), 1)}
		t.keys[key] = k
	}
	t.mu.Unlock()

	if !k.lim.Allow() {
		k.suppressed.Add(1)
		return false, 0
	}
	return true, k.suppressed.Swap(0)
}

// Warn logs through l when the key is not throttled.
func (t *Throttle) Warn(l Logger, key, msg string, fields ...Field) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		fields = append(fields, Int64("suppressed", dropped))
	}
	l.Warn(msg, fields...)
}
