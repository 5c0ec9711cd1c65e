package client

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValerySidorin/nsqconn/internal/common/fnet"
	"github.com/ValerySidorin/nsqconn/internal/nsq/proto/response"
)

type bufConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *bufConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *bufConn) SetWriteDeadline(time.Time) error { return nil }

type testConn struct {
	*Conn
	w *bufConn
}

// newTestConn returns a connected Conn without a transport. Written commands
// are collected by written.
func newTestConn(tb testing.TB) *testConn {
	tb.Helper()

	conf := Config{
		Host:      "127.0.0.1",
		Port:      4150,
		OnConnect: func(*Conn) {},
		OnError:   func(*Conn, error) {},
		ClientID:  "worker",
		Hostname:  "worker.local",
	}
	require.NoError(tb, conf.ValidateAndSetDefaults())

	w := &bufConn{}
	c := &Conn{
		conf:      conf,
		addr:      conf.Addr(),
		acks:      newCorrelator[Response](conf.MaxPendingAcks),
		flow:      newFlowController(conf.ReadyThreshold),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		l:         slog.Default(),
	}
	c.out = fnet.NewOutbound(w, 0, nil, c.l)
	c.state.Store(int32(StateConnected))

	return &testConn{Conn: c, w: w}
}

// written flushes the outbound and returns everything written so far. The
// connection cannot write afterwards.
func (c *testConn) written() string {
	c.out.Close()
	c.out.WriteLoop()

	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return c.w.buf.String()
}

func frame(t response.FrameType, body string) []byte {
	return response.AppendFrame(nil, t, []byte(body))
}

func msgFrame(id string, attempts uint16, body string) []byte {
	return response.AppendFrame(nil, response.FRAME_TYPE_MESSAGE,
		response.AppendMsg(nil, 1700000000, attempts, []byte(id), []byte(body)))
}

func TestParse_Heartbeat(t *testing.T) {
	c := newTestConn(t)
	require.NoError(t, c.acks.next(make(chan Response, 1)))

	require.NoError(t, c.parse(frame(response.FRAME_TYPE_RESPONSE, "_heartbeat_")))

	assert.Equal(t, 1, c.acks.len())
	assert.Equal(t, "NOP\n", c.written())
}

func TestParse_ResponsesResolveInOrder(t *testing.T) {
	c := newTestConn(t)

	ch1 := make(chan Response, 1)
	ch2 := make(chan Response, 1)
	require.NoError(t, c.acks.next(ch1))
	require.NoError(t, c.acks.next(ch2))

	var buf []byte
	buf = append(buf, frame(response.FRAME_TYPE_RESPONSE, `{"n":1}`)...)
	buf = append(buf, frame(response.FRAME_TYPE_RESPONSE, `{"n":2}`)...)
	buf = append(buf, frame(response.FRAME_TYPE_RESPONSE, `{"n":3}`)...)

	require.NoError(t, c.parse(buf))

	r1 := <-ch1
	r2 := <-ch2
	assert.Equal(t, map[string]any{"n": float64(1)}, r1.Value)
	assert.Equal(t, `{"n":2}`, string(r2.Body))
	assert.Equal(t, 0, c.acks.len())
}

func TestParse_OKDoesNotResolve(t *testing.T) {
	c := newTestConn(t)

	ch := make(chan Response, 1)
	require.NoError(t, c.acks.next(ch))

	require.NoError(t, c.parse(frame(response.FRAME_TYPE_RESPONSE, "OK")))
	assert.Len(t, ch, 0)
	assert.Equal(t, 1, c.acks.len())

	require.NoError(t, c.parse(frame(response.FRAME_TYPE_RESPONSE, `"done"`)))
	assert.Equal(t, "done", (<-ch).Value)
}

func TestParse_ByteByByte(t *testing.T) {
	c := newTestConn(t)

	ch := make(chan Response, 1)
	require.NoError(t, c.acks.next(ch))

	var got []*Message
	c.handler = func(msg *Message) { got = append(got, msg) }

	var buf []byte
	buf = append(buf, msgFrame("0123456789ABCDEF", 1, "first")...)
	buf = append(buf, frame(response.FRAME_TYPE_RESPONSE, "_heartbeat_")...)
	buf = append(buf, frame(response.FRAME_TYPE_RESPONSE, `{"max_rdy_count":2500}`)...)
	buf = append(buf, msgFrame("FEDCBA9876543210", 2, "")...)

	for i := range buf {
		require.NoError(t, c.parse(buf[i:i+1]))
	}

	require.Len(t, got, 2)
	assert.Equal(t, "first", string(got[0].Body))
	assert.Equal(t, "0123456789ABCDEF", got[0].ID.String())
	assert.Equal(t, uint16(2), got[1].Attempts)
	assert.Empty(t, got[1].Body)
	assert.Equal(t, map[string]any{"max_rdy_count": float64(2500)}, (<-ch).Value)
	assert.Equal(t, "NOP\n", c.written())
}

func TestParse_Message(t *testing.T) {
	c := newTestConn(t)

	body := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 3}
	body = append(body, "0123456789ABCDEF"...)
	body = append(body, "hello"...)

	var got *Message
	c.handler = func(msg *Message) { got = msg }

	require.NoError(t, c.parse(response.AppendFrame(nil, response.FRAME_TYPE_MESSAGE, body)))

	require.NotNil(t, got)
	assert.Equal(t, uint64(1)<<32, got.Timestamp)
	assert.Equal(t, uint16(3), got.Attempts)
	assert.Equal(t, "0123456789ABCDEF", got.ID.String())
	assert.Equal(t, "hello", got.String())
	assert.Equal(t, int64(1), c.InFlight())
}

func TestParse_FlowControl(t *testing.T) {
	c := newTestConn(t)
	c.handler = func(*Message) {}

	require.NoError(t, c.Ready(4))

	require.NoError(t, c.parse(msgFrame("0123456789ABCDEF", 1, "a")))
	assert.Equal(t, int64(1), c.InFlight())

	require.NoError(t, c.parse(msgFrame("0123456789ABCDEF", 1, "b")))
	assert.Equal(t, int64(0), c.InFlight())
	assert.Equal(t, int64(4), c.ReadyCount())

	assert.Equal(t, "RDY 4\nRDY 4\n", c.written())
}

func TestParse_MessageWithoutHandler(t *testing.T) {
	c := newTestConn(t)

	require.NoError(t, c.parse(msgFrame("0123456789ABCDEF", 1, "lost")))
	assert.Equal(t, int64(1), c.InFlight())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		expKind error
		expMsg  string
	}{
		{
			name:    "invalid json",
			buf:     frame(response.FRAME_TYPE_RESPONSE, "garbage"),
			expKind: ErrProtocol,
			expMsg:  "unexpected/invalid JSON response 'garbage'",
		},
		{
			name:    "error frame",
			buf:     frame(response.FRAME_TYPE_ERROR, "E_BAD_TOPIC SUB topic name is not valid"),
			expKind: ErrServer,
			expMsg:  "received error 'E_BAD_TOPIC SUB topic name is not valid'",
		},
		{
			name:    "unknown frame type",
			buf:     frame(7, "x"),
			expKind: ErrProtocol,
			expMsg:  "unexpected frame type '7'",
		},
		{
			name:    "size below type length",
			buf:     []byte{0, 0, 0, 3, 0, 0, 0, 0},
			expKind: ErrProtocol,
			expMsg:  "invalid frame size '3'",
		},
		{
			name:    "size above limit",
			buf:     []byte{0x7f, 0, 0, 0, 0, 0, 0, 0},
			expKind: ErrProtocol,
			expMsg:  "frame size '2130706432' exceeds limit",
		},
		{
			name:    "short message",
			buf:     frame(response.FRAME_TYPE_MESSAGE, "0123456789"),
			expKind: ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConn(t)

			called := false
			c.handler = func(*Message) { called = true }

			buf := append(tt.buf, msgFrame("0123456789ABCDEF", 1, "after")...)
			err := c.parse(buf)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expKind)
			if tt.expMsg != "" {
				assert.EqualError(t, err, tt.expMsg)
			}
			assert.False(t, called)
		})
	}
}

func TestParse_StopsAfterClose(t *testing.T) {
	c := newTestConn(t)

	called := 0
	c.handler = func(*Message) {
		called++
		c.forceClose(nil)
	}

	var buf []byte
	buf = append(buf, msgFrame("0123456789ABCDEF", 1, "a")...)
	buf = append(buf, msgFrame("0123456789ABCDEF", 1, "b")...)

	assert.ErrorIs(t, c.parse(buf), errStopParsing)
	assert.Equal(t, 1, called)
	assert.Equal(t, StateClosingForError, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("connection not torn down")
	}
}
