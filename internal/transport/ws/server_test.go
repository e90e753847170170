package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifegrid.ai/internal/protocol"
	"lifegrid.ai/internal/session"
	"lifegrid.ai/internal/store"
)

func startServer(t *testing.T) (*session.Session, string) {
	t.Helper()
	sess, err := session.New(session.Config{
		Rows:           6,
		Cols:           6,
		TickInterval:   time.Hour,
		CommitInterval: time.Millisecond,
	}, store.NewMemory(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()

	v, err := protocol.NewValidator()
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(sess, v, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return sess, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

// readUntil returns the first message of type typ, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func([]byte) bool) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		base, err := protocol.DecodeBase(b)
		require.NoError(t, err)
		if base.Type == typ && (match == nil || match(b)) {
			return b
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, participant string) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Participant: participant})
	var w protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome, nil), &w))
	return w
}

func TestHandshake_Welcome(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	w := hello(t, conn, "alice")
	assert.Equal(t, "alice", w.Participant)
	assert.Equal(t, 6, w.Rows)
	assert.Equal(t, 6, w.Cols)
	assert.Equal(t, "23/3", w.Rule)
	assert.NotEmpty(t, w.SessionID)

	readUntil(t, conn, protocol.TypeFrame, nil)
}

func TestHandshake_RejectsNonHello(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	send(t, conn, protocol.ControlMsg{Type: protocol.TypePlay, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

func TestHandshake_BadVersion(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9"})
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &e))
	assert.Equal(t, protocol.ErrProtoVersion, e.Code)
}

func TestEdit_ReachesFrame(t *testing.T) {
	sess, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, "alice")

	send(t, conn, protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, X: 2, Y: 1, Alive: true})
	readUntil(t, conn, protocol.TypeFrame, func(b []byte) bool {
		var f protocol.FrameMsg
		return json.Unmarshal(b, &f) == nil && len(f.Participants) == 1 && f.Participants[0] == "alice"
	})
	assert.Eventually(t, func() bool { return sess.Status().Live == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestErrors(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, "bob")

	cases := []struct {
		name string
		msg  any
		code string
	}{
		{"out of bounds", protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, X: 100, Y: 0, Alive: true}, protocol.ErrOutOfBounds},
		{"bad rule", protocol.RuleMsg{Type: protocol.TypeRule, ProtocolVersion: protocol.Version, Rule: "x/y"}, protocol.ErrBadRule},
		{"schema", map[string]any{"type": protocol.TypeEdit, "protocol_version": protocol.Version, "x": -1}, protocol.ErrProtoBadRequest},
		{"unknown type", map[string]any{"type": "JUMP", "protocol_version": protocol.Version}, protocol.ErrProtoBadRequest},
		{"hello twice", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version}, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, conn, tc.msg)
			var e protocol.ErrorMsg
			require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &e))
			assert.Equal(t, tc.code, e.Code)
		})
	}
}

func TestErrorCode(t *testing.T) {
	code, _ := errorCode(nil)
	assert.Empty(t, code)
	code, _ = errorCode(session.ErrStopped)
	assert.Equal(t, protocol.ErrUnavailable, code)
	code, _ = errorCode(context.Canceled)
	assert.Equal(t, protocol.ErrInternal, code)
}
