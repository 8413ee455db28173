package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/vnsync-go/internal/json"
	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/connector"
	"github.com/lk2023060901/vnsync-go/internal/vnsync"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/directory"
	"github.com/lk2023060901/vnsync-go/pkg/log"
)

type wireMessage struct {
	Method string         `json:"method"`
	ID     string         `json:"id"`
	Reason string         `json:"reason"`
	Data   map[string]any `json:"data"`
}

func testConfig(t *testing.T) *vnsync.Config {
	t.Helper()
	log.UseTestLogger(t, &log.Config{Level: "debug"})
	cfg, err := vnsync.Load("")
	require.NoError(t, err)
	cfg.Session.HandshakeTimeout = time.Second
	cfg.Session.GraceWindow = 5 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg *vnsync.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Options{Config: cfg})
	require.NoError(t, err)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		hs.Close()
	})
	return s, hs
}

func wsURL(hs *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(hs.URL, "http") + path
}

func dial(t *testing.T, hs *httptest.Server) connector.ClientConn {
	t.Helper()
	cc, err := connector.NewWSConnector(connector.Config{}, nil).Dial(context.Background(), wsURL(hs, "/ws"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Abort() })
	return cc
}

func send(t *testing.T, cc connector.ClientConn, text string) {
	t.Helper()
	require.NoError(t, cc.SendFrame(network.TextFrame([]byte(text))))
}

func recv(t *testing.T, cc connector.ClientConn) wireMessage {
	t.Helper()
	select {
	case frame, ok := <-cc.Recv():
		require.True(t, ok, "connection closed")
		var msg wireMessage
		require.NoError(t, cc.Decode(frame, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return wireMessage{}
	}
}

func waitClosed(t *testing.T, cc connector.ClientConn) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-cc.Recv():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection not closed by server")
		}
	}
}

func eventuallyStats(t *testing.T, s *Server, want directory.Stats) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := s.Directory().Stats(context.Background())
		return err == nil && got == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostDropAndResume(t *testing.T) {
	s, hs := startServer(t, testConfig(t))

	host := dial(t, hs)
	send(t, host, `{"id":"1","body":{"method":"init","init_type":"host"}}`)
	reply := recv(t, host)
	require.Equal(t, "reply", reply.Method)
	assert.Equal(t, "1", reply.ID)
	assert.Equal(t, "init", reply.Data["reply_to"])
	assert.Equal(t, "host", reply.Data["init_type"])
	sid, _ := reply.Data["session_id"].(string)
	require.NotEmpty(t, sid)
	assert.NotEmpty(t, reply.Data["room_id"])

	send(t, host, `{"id":"2","body":{"method":"set_state_string","string":"chapter-3"}}`)
	ack := recv(t, host)
	assert.Equal(t, map[string]any{"reply_to": "set_state_string"}, ack.Data)

	require.NoError(t, host.Abort())
	eventuallyStats(t, s, directory.Stats{Clients: 0, Dangling: 1})

	resumed := dial(t, hs)
	send(t, resumed, `{"id":"r","body":{"method":"init","init_type":"reconnect","session_id":"`+sid+`"}}`)
	rr := recv(t, resumed)
	assert.Equal(t, map[string]any{"reply_to": "init", "init_type": "reconnect"}, rr.Data)

	send(t, resumed, `{"id":"g","body":{"method":"get_state_string"}}`)
	got := recv(t, resumed)
	assert.Equal(t, "g", got.ID)
	assert.Equal(t, map[string]any{"reply_to": "get_state_string", "string": "chapter-3"}, got.Data)
	eventuallyStats(t, s, directory.Stats{Clients: 1, Dangling: 0})
}

func TestMalformedClosesWithReason(t *testing.T) {
	_, hs := startServer(t, testConfig(t))

	cc := dial(t, hs)
	send(t, cc, `{"id":"1","body":{"method":"init","init_type":"guest"}}`)
	msg := recv(t, cc)
	assert.Equal(t, wireMessage{Method: "close", Reason: "malformed_message"}, msg)
	waitClosed(t, cc)
}

func TestBadReconnectCloses(t *testing.T) {
	_, hs := startServer(t, testConfig(t))

	cc := dial(t, hs)
	send(t, cc, `{"id":"1","body":{"method":"init","init_type":"reconnect","session_id":"unknown"}}`)
	assert.Equal(t, "bad_session_id_provided", recv(t, cc).Reason)
	waitClosed(t, cc)
}

func TestInitTimeoutCloses(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.HandshakeTimeout = 50 * time.Millisecond
	_, hs := startServer(t, cfg)

	cc := dial(t, hs)
	assert.Equal(t, "init_timeout", recv(t, cc).Reason)
	waitClosed(t, cc)
}

func TestHealthAndMetrics(t *testing.T) {
	s, hs := startServer(t, testConfig(t))
	cc := dial(t, hs)
	send(t, cc, `{"id":"1","body":{"method":"init","init_type":"client","room_id":"room"}}`)
	recv(t, cc)
	eventuallyStats(t, s, directory.Stats{Clients: 1})

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["clients"])

	resp, err = http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "vnsync_directory_connected_clients")
	assert.Contains(t, string(body), "vnsync_connection_handshake_total")
}

func TestShutdownClosesClients(t *testing.T) {
	s, hs := startServer(t, testConfig(t))
	cc := dial(t, hs)
	send(t, cc, `{"id":"1","body":{"method":"init","init_type":"host"}}`)
	recv(t, cc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, wireMessage{Method: "close", Reason: "server_shutdown"}, recv(t, cc))
	waitClosed(t, cc)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s, err := New(Options{Config: testConfig(t)})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Server.Path = "ws"
	_, err = New(Options{Config: cfg})
	assert.Error(t, err)
}
