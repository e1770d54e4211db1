// Package clock 提供可注入的时间源，拼团过期判断都从这里取当前时间。
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System 返回 UTC 的系统时间
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fake 手动拨动的时钟，测试过期逻辑用
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now.UTC()
	f.mu.Unlock()
}
