package acceptor

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/connector"
	"github.com/lk2023060901/vnsync-go/internal/network/session"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

type event struct {
	kind  string
	id    uint64
	frame network.Frame
}

// recordingHandler 记录回调事件，并把收到的文本帧原样回写。
type recordingHandler struct {
	events chan event
	mu     sync.Mutex
	errs   []network.Stage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan event, 64)}
}

func (h *recordingHandler) OnConnected(sess session.Session) {
	h.events <- event{kind: "connected", id: sess.ID()}
}

func (h *recordingHandler) OnMessage(sess session.Session, frame network.Frame) {
	h.events <- event{kind: "message", id: sess.ID(), frame: frame}
	if frame.IsText() {
		_ = sess.SendFrame(frame)
	}
}

func (h *recordingHandler) OnClosed(sess session.Session, err error) {
	h.events <- event{kind: "closed", id: sess.ID()}
}

func (h *recordingHandler) OnError(sess session.Session, stage network.Stage, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, stage)
}

func (h *recordingHandler) next(t *testing.T, kind string) event {
	t.Helper()
	select {
	case ev := <-h.events:
		require.Equal(t, kind, ev.kind)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
		return event{}
	}
}

func startAcceptor(t *testing.T, h Handler) (*BaseAcceptor, string) {
	t.Helper()
	a, err := NewWebSocketAcceptor(Config{}, h)
	require.NoError(t, err)
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return a, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) connector.ClientConn {
	t.Helper()
	cc, err := connector.NewWSConnector(connector.Config{}, nil).Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Abort() })
	return cc
}

func TestAcceptorLifecycle(t *testing.T) {
	h := newRecordingHandler()
	a, url := startAcceptor(t, h)

	first := dial(t, url)
	ev1 := h.next(t, "connected")
	second := dial(t, url)
	ev2 := h.next(t, "connected")
	assert.NotEqual(t, ev1.id, ev2.id)
	assert.Equal(t, 2, a.Sessions().Count())

	require.NoError(t, first.SendFrame(network.TextFrame([]byte(`{"id":"1"}`))))
	msg := h.next(t, "message")
	assert.Equal(t, ev1.id, msg.id)
	assert.True(t, msg.frame.IsText())

	select {
	case echoed := <-first.Recv():
		assert.Equal(t, `{"id":"1"}`, string(echoed.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, second.SendFrame(network.BinaryFrame([]byte{1, 2, 3})))
	bin := h.next(t, "message")
	assert.Equal(t, network.BinaryMessage, bin.frame.Type)

	require.NoError(t, first.Close())
	closed := h.next(t, "closed")
	assert.Equal(t, ev1.id, closed.id)
	assert.Eventually(t, func() bool { return a.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptorShutdownClosesSessions(t *testing.T) {
	h := newRecordingHandler()
	a, url := startAcceptor(t, h)

	cc := dial(t, url)
	h.next(t, "connected")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	h.next(t, "closed")

	select {
	case _, ok := <-cc.Recv():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed")
	}

	_, err := connector.NewWSConnector(connector.Config{}, nil).Dial(context.Background(), url, nil)
	assert.Error(t, err)
	assert.NoError(t, a.Shutdown(ctx))
}

func TestNewWebSocketAcceptorRequiresHandler(t *testing.T) {
	_, err := NewWebSocketAcceptor(Config{}, nil)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
