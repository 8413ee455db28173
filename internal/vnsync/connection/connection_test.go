package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/vnsync-go/internal/vnsync/protocol"
	"github.com/lk2023060901/vnsync-go/pkg/log"
)

type fakeResponder struct {
	id   uint64
	sent chan any

	mu     sync.Mutex
	closed bool
}

func newFakeResponder(id uint64) *fakeResponder {
	return &fakeResponder{id: id, sent: make(chan any, 16)}
}

func (r *fakeResponder) ID() uint64 { return r.id }

func (r *fakeResponder) Send(msg any) error {
	r.sent <- msg
	return nil
}

func (r *fakeResponder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeResponder) next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-r.sent:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message sent")
		return nil
	}
}

func (r *fakeResponder) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.sent:
		t.Fatalf("unexpected message %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

type stopCall struct {
	conn   *Connection
	state  *SessionState
	reason StopReason
}

type fakeDirectory struct {
	stops chan stopCall

	mu        sync.Mutex
	dangling  map[string]*SessionState
	claimants []uint64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{stops: make(chan stopCall, 4), dangling: make(map[string]*SessionState)}
}

func (d *fakeDirectory) StopConnection(conn *Connection, state *SessionState, reason StopReason) {
	d.stops <- stopCall{conn: conn, state: state, reason: reason}
	conn.Terminate()
}

func (d *fakeDirectory) ClaimDanglingSession(_ context.Context, claimant uint64, sessionID string) (*SessionState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimants = append(d.claimants, claimant)
	state, ok := d.dangling[sessionID]
	delete(d.dangling, sessionID)
	return state, ok
}

func (d *fakeDirectory) nextStop(t *testing.T) stopCall {
	t.Helper()
	select {
	case call := <-d.stops:
		return call
	case <-time.After(time.Second):
		t.Fatal("no StopConnection")
		return stopCall{}
	}
}

type harness struct {
	conn *Connection
	resp *fakeResponder
	dir  *fakeDirectory
	done chan struct{}
}

func start(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	log.UseTestLogger(t, &log.Config{Level: "debug"})
	h := &harness{
		resp: newFakeResponder(7),
		dir:  newFakeDirectory(),
		done: make(chan struct{}),
	}
	h.conn = New(context.Background(), 7, h.dir, h.resp, Config{HandshakeTimeout: timeout})
	go func() {
		defer close(h.done)
		h.conn.Run()
	}()
	t.Cleanup(func() {
		h.conn.Terminate()
		<-h.done
	})
	return h
}

func (h *harness) deliver(id string, body protocol.Body) {
	h.conn.Deliver(protocol.Request{ID: id, Body: body})
}

func initData(t *testing.T, msg any) protocol.InitReply {
	t.Helper()
	reply, ok := msg.(protocol.Reply)
	require.True(t, ok, "expected reply, got %#v", msg)
	data, ok := reply.Data.(protocol.InitReply)
	require.True(t, ok)
	return data
}

func TestStopReasonClosesTransport(t *testing.T) {
	for _, r := range []StopReason{StopInitTimeout, StopMalformedMessage, StopBadSessionIDProvided, StopServerBusy, StopServerShutdown} {
		assert.True(t, r.ClosesTransport(), r.String())
	}
	assert.False(t, StopClientDisconnect.ClosesTransport())
}

func TestHostHandshakeAndState(t *testing.T) {
	h := start(t, time.Second)

	h.deliver("1", protocol.Init{Type: protocol.InitHost})
	data := initData(t, h.resp.next(t))
	assert.Equal(t, protocol.InitHost, data.InitType)
	assert.NotEmpty(t, data.SessionID)
	assert.NotEmpty(t, data.RoomID)
	assert.NotEqual(t, data.SessionID, data.RoomID)

	h.deliver("2", protocol.GetStateString{})
	assert.Equal(t, protocol.NewGetStateStringReply("2", ""), h.resp.next(t))

	h.deliver("3", protocol.SetStateString{Value: "abc"})
	assert.Equal(t, protocol.NewSetStateStringReply("3"), h.resp.next(t))

	h.deliver("4", protocol.GetStateString{})
	assert.Equal(t, protocol.NewGetStateStringReply("4", "abc"), h.resp.next(t))

	h.conn.Stop(StopClientDisconnect)
	call := h.dir.nextStop(t)
	assert.Equal(t, StopClientDisconnect, call.reason)
	assert.Same(t, h.conn, call.conn)
	require.NotNil(t, call.state)
	assert.Equal(t, SessionState{SessionID: data.SessionID, RoomID: data.RoomID, StateString: "abc"}, *call.state)
}

func TestClientHandshakeKeepsRoom(t *testing.T) {
	h := start(t, time.Second)

	h.deliver("1", protocol.Init{Type: protocol.InitClient, RoomID: "room-9"})
	reply := h.resp.next(t).(protocol.Reply)
	assert.Equal(t, "1", reply.ID)
	data := initData(t, reply)
	assert.Equal(t, protocol.InitClient, data.InitType)
	assert.NotEmpty(t, data.SessionID)
	assert.Empty(t, data.RoomID)

	h.conn.Stop(StopClientDisconnect)
	call := h.dir.nextStop(t)
	assert.Equal(t, "room-9", call.state.RoomID)
}

func TestInitTimeout(t *testing.T) {
	h := start(t, 20*time.Millisecond)

	call := h.dir.nextStop(t)
	assert.Equal(t, StopInitTimeout, call.reason)
	assert.Nil(t, call.state)
	h.resp.assertSilent(t)
}

func TestInitCancelsTimeout(t *testing.T) {
	h := start(t, 30*time.Millisecond)
	h.deliver("1", protocol.Init{Type: protocol.InitHost})
	h.resp.next(t)

	select {
	case call := <-h.dir.stops:
		t.Fatalf("unexpected stop %s", call.reason)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestReconnect(t *testing.T) {
	h := start(t, time.Second)
	h.dir.dangling["s-1"] = &SessionState{SessionID: "s-1", RoomID: "r-1", StateString: "kept"}

	h.deliver("1", protocol.Init{Type: protocol.InitReconnect, SessionID: "s-1"})
	assert.Equal(t, protocol.NewReconnectReply("1"), h.resp.next(t))

	h.deliver("2", protocol.GetStateString{})
	assert.Equal(t, protocol.NewGetStateStringReply("2", "kept"), h.resp.next(t))

	h.dir.mu.Lock()
	defer h.dir.mu.Unlock()
	assert.Equal(t, []uint64{7}, h.dir.claimants)
}

func TestReconnectUnknownSession(t *testing.T) {
	h := start(t, time.Second)

	h.deliver("1", protocol.Init{Type: protocol.InitReconnect, SessionID: "missing"})
	call := h.dir.nextStop(t)
	assert.Equal(t, StopBadSessionIDProvided, call.reason)
	assert.Nil(t, call.state)
	h.resp.assertSilent(t)
}

func TestMalformedStops(t *testing.T) {
	h := start(t, time.Second)
	h.deliver("1", protocol.Init{Type: protocol.InitHost})
	h.resp.next(t)

	h.conn.Malformed(errors.New("bad frame"))
	call := h.dir.nextStop(t)
	assert.Equal(t, StopMalformedMessage, call.reason)
	assert.NotNil(t, call.state)
}

func TestOutOfStateRequestsIgnored(t *testing.T) {
	h := start(t, time.Second)

	h.deliver("1", protocol.GetStateString{})
	h.deliver("2", protocol.SetStateString{Value: "x"})
	h.resp.assertSilent(t)

	h.deliver("3", protocol.Init{Type: protocol.InitHost})
	first := initData(t, h.resp.next(t))

	h.deliver("4", protocol.Init{Type: protocol.InitClient, RoomID: "other"})
	h.resp.assertSilent(t)

	h.deliver("5", protocol.GetStateString{})
	assert.Equal(t, protocol.NewGetStateStringReply("5", ""), h.resp.next(t))

	h.conn.Stop(StopClientDisconnect)
	assert.Equal(t, first.SessionID, h.dir.nextStop(t).state.SessionID)
}

func TestSingleStopConnection(t *testing.T) {
	resp := newFakeResponder(1)
	dir := &fakeDirectory{stops: make(chan stopCall, 4), dangling: map[string]*SessionState{}}
	conn := New(context.Background(), 1, stopOnlyDirectory{dir}, resp, Config{HandshakeTimeout: time.Second})
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.Run()
	}()

	conn.Stop(StopMalformedMessage)
	conn.Stop(StopClientDisconnect)
	conn.Malformed(errors.New("late"))

	call := dir.nextStop(t)
	assert.Equal(t, StopMalformedMessage, call.reason)
	select {
	case extra := <-dir.stops:
		t.Fatalf("second StopConnection %s", extra.reason)
	case <-time.After(30 * time.Millisecond):
	}

	conn.Terminate()
	<-done
	assert.False(t, conn.Stop(StopClientDisconnect))
}

// stopOnlyDirectory 不终止连接，用于观察重复的 Stop 是否被吞掉。
type stopOnlyDirectory struct {
	*fakeDirectory
}

func (d stopOnlyDirectory) StopConnection(conn *Connection, state *SessionState, reason StopReason) {
	d.stops <- stopCall{conn: conn, state: state, reason: reason}
}

type failingResponder struct {
	sends, closes int
}

func (r *failingResponder) ID() uint64 { return 9 }

func (r *failingResponder) Send(any) error {
	r.sends++
	return errors.New("write on closed socket")
}

func (r *failingResponder) Close() error {
	r.closes++
	return errors.New("already closed")
}

func TestCloseResponderContinuesAfterSendError(t *testing.T) {
	log.UseTestLogger(t, &log.Config{Level: "debug"})
	r := &failingResponder{}
	assert.NotPanics(t, func() { CloseResponder(r, StopServerShutdown) })
	assert.Equal(t, 1, r.sends)
	assert.Equal(t, 1, r.closes)
}
