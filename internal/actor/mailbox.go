// Package actor 提供单协程 worker 所需的最小运行时：
// 无界 FIFO 邮箱、可取消的延迟自投递消息，以及请求/应答辅助函数。
package actor

import (
	"sync"

	"github.com/eapache/queue"
)

// Mailbox 是一个无界、多生产者单消费者的 FIFO 邮箱。
//
// Post 永不阻塞；Receive 在邮箱为空时阻塞。Close 之后 Post 被丢弃，
// Receive 立即返回 false，尚未取出的消息一并丢弃。
type Mailbox[M any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func NewMailbox[M any]() *Mailbox[M] {
	return &Mailbox[M]{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post 投递一条消息，返回 false 表示邮箱已关闭。
func (mb *Mailbox[M]) Post(msg M) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.q.Add(msg)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return true
}

// Receive 按投递顺序取出下一条消息。
func (mb *Mailbox[M]) Receive() (M, bool) {
	var zero M
	for {
		mb.mu.Lock()
		if mb.closed {
			mb.mu.Unlock()
			return zero, false
		}
		if mb.q.Length() > 0 {
			msg := mb.q.Remove().(M)
			mb.mu.Unlock()
			return msg, true
		}
		mb.mu.Unlock()

		select {
		case <-mb.notify:
		case <-mb.done:
		}
	}
}

// Close 关闭邮箱，可重复调用。
func (mb *Mailbox[M]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	for mb.q.Length() > 0 {
		mb.q.Remove()
	}
	close(mb.done)
}

// Closed 返回邮箱关闭时被关闭的 channel。
func (mb *Mailbox[M]) Closed() <-chan struct{} {
	return mb.done
}

// Len 返回尚未取出的消息数量。
func (mb *Mailbox[M]) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.q.Length()
}
