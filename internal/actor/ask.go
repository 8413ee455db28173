package actor

import (
	"context"

	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

// Ask 向 mb 投递一条携带应答通道的请求，并等待应答。
//
// build 负责把应答通道装进具体的消息类型；应答通道带一个缓冲，
// 接收方写入时永不阻塞。邮箱已关闭时返回 merr.ErrServiceNotReady。
func Ask[M any, R any](ctx context.Context, mb *Mailbox[M], build func(reply chan<- R) M) (R, error) {
	var zero R
	reply := make(chan R, 1)
	if !mb.Post(build(reply)) {
		return zero, merr.WrapErrServiceNotReady("mailbox", "closed")
	}

	select {
	case r := <-reply:
		return r, nil
	case <-mb.Closed():
		// 关闭前可能已经写入应答
		select {
		case r := <-reply:
			return r, nil
		default:
		}
		return zero, merr.WrapErrServiceNotReady("mailbox", "closed before reply")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
