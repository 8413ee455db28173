package connector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	network "github.com/lk2023060901/vnsync-go/internal/network"
)

type closeMsg struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

func TestDialRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	start := time.Now()
	_, err = NewWSConnector(Config{DialAttempts: 2, DialBackoff: 10 * time.Millisecond}, nil).
		Dial(context.Background(), "ws://"+addr+"/ws", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, network.ErrHandshakeFailed))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDialDoesNotRetryRejectedUpgrade(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewWSConnector(Config{DialAttempts: 3, DialBackoff: time.Millisecond}, nil).
		Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClientConnRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cc, err := NewWSConnector(Config{}, nil).Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer cc.Abort()

	require.NoError(t, cc.Send(closeMsg{Method: "close", Reason: "server_busy"}))
	select {
	case frame := <-cc.Recv():
		var msg closeMsg
		require.NoError(t, cc.Decode(frame, &msg))
		assert.Equal(t, "server_busy", msg.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, cc.Close())
	assert.NoError(t, cc.Err())
	assert.Error(t, cc.SendFrame(network.TextFrame([]byte("late"))))
}
