package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

func TestMailboxFIFO(t *testing.T) {
	mb := NewMailbox[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, mb.Post(i))
	}
	assert.Equal(t, 1000, mb.Len())
	for i := 0; i < 1000; i++ {
		v, ok := mb.Receive()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestMailboxConcurrentProducers(t *testing.T) {
	mb := NewMailbox[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				mb.Post(p*perProducer + i)
			}
		}(p)
	}

	last := make(map[int]int)
	for n := 0; n < producers*perProducer; n++ {
		v, ok := mb.Receive()
		require.True(t, ok)
		p := v / perProducer
		if prev, seen := last[p]; seen {
			require.Greater(t, v, prev, "per-producer order must be preserved")
		}
		last[p] = v
	}
	wg.Wait()
}

func TestMailboxCloseUnblocksReceive(t *testing.T) {
	mb := NewMailbox[string]()
	done := make(chan bool)
	go func() {
		_, ok := mb.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	mb.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receive not unblocked by close")
	}

	assert.False(t, mb.Post("late"))
	mb.Close()
}

func TestSendAfterDelivers(t *testing.T) {
	mb := NewMailbox[string]()
	SendAfter(mb, 5*time.Millisecond, "timeout")

	v, ok := mb.Receive()
	require.True(t, ok)
	assert.Equal(t, "timeout", v)
}

func TestSendAfterCancel(t *testing.T) {
	mb := NewMailbox[string]()
	tm := SendAfter(mb, 20*time.Millisecond, "timeout")
	assert.True(t, tm.Cancel())
	assert.False(t, tm.Cancel())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, mb.Len())

	var nilTimer *Timer
	assert.False(t, nilTimer.Cancel())
}

func TestSendAfterCancelAfterFire(t *testing.T) {
	mb := NewMailbox[string]()
	tm := SendAfter(mb, time.Millisecond, "timeout")
	_, ok := mb.Receive()
	require.True(t, ok)
	assert.False(t, tm.Cancel())
}

type askMsg struct {
	question int
	reply    chan<- int
}

func TestAsk(t *testing.T) {
	mb := NewMailbox[askMsg]()
	go func() {
		for {
			msg, ok := mb.Receive()
			if !ok {
				return
			}
			msg.reply <- msg.question * 2
		}
	}()
	defer mb.Close()

	got, err := Ask(context.Background(), mb, func(reply chan<- int) askMsg {
		return askMsg{question: 21, reply: reply}
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestAskClosedMailbox(t *testing.T) {
	mb := NewMailbox[askMsg]()
	mb.Close()

	_, err := Ask(context.Background(), mb, func(reply chan<- int) askMsg {
		return askMsg{reply: reply}
	})
	assert.ErrorIs(t, err, merr.ErrServiceNotReady)
}

func TestAskContextDone(t *testing.T) {
	mb := NewMailbox[askMsg]()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Ask(ctx, mb, func(reply chan<- int) askMsg {
		return askMsg{reply: reply}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
