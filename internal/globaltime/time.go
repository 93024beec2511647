// Package globaltime is the process clock. Tests freeze it instead of
// threading a clock through every constructor.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	fn := nowFunc
	mu.RUnlock()
	return fn()
}

// UTC returns Now in UTC truncated to the microsecond, the precision the
// database keeps.
func UTC() time.Time {
	return Now().UTC().Truncate(time.Microsecond)
}

// Freeze pins the clock to t until Reset is called.
func Freeze(t time.Time) {
	Set(func() time.Time { return t })
}

// Set replaces the clock source. A nil fn restores the wall clock.
func Set(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	mu.Lock()
	defer mu.Unlock()
	nowFunc = fn
}

func Reset() {
	Set(nil)
}
