package actor

import (
	"sync"
	"time"
)

// Timer 是 SendAfter 返回的句柄。
type Timer struct {
	mu        sync.Mutex
	t         *time.Timer
	cancelled bool
	fired     bool
}

// SendAfter 在 d 之后向 mb 投递 msg。
//
// Cancel 返回之后不会再有投递发生；在 Cancel 之前已经入队的消息仍然会被取出，
// 因此邮箱的所有者需要能识别并忽略过期的定时消息。
func SendAfter[M any](mb *Mailbox[M], d time.Duration, msg M) *Timer {
	tm := &Timer{}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		if tm.cancelled {
			return
		}
		tm.fired = true
		mb.Post(msg)
	})
	return tm
}

// Cancel 取消定时器，返回 true 表示消息尚未投递。可重复调用。
func (tm *Timer) Cancel() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.cancelled {
		return false
	}
	tm.cancelled = true
	tm.t.Stop()
	return !tm.fired
}
