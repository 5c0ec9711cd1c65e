package client_test

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/ValerySidorin/nsqconn/internal/nsq/proto/response"
)

// fakeBroker accepts a single client connection and speaks the broker side
// of the protocol by hand.
type fakeBroker struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBroker{t: t, ln: ln}
	t.Cleanup(func() {
		ln.Close()
		if b.conn != nil {
			b.conn.Close()
		}
	})

	return b
}

func (b *fakeBroker) port() int {
	return b.ln.Addr().(*net.TCPAddr).Port
}

func (b *fakeBroker) accept() {
	b.t.Helper()

	b.ln.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	conn, err := b.ln.Accept()
	require.NoError(b.t, err)

	b.conn = conn
	b.r = bufio.NewReader(conn)
}

func (b *fakeBroker) deadline() {
	b.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
}

func (b *fakeBroker) readMagic() string {
	b.t.Helper()
	b.deadline()

	magic := make([]byte, 4)
	_, err := io.ReadFull(b.r, magic)
	require.NoError(b.t, err)
	return string(magic)
}

func (b *fakeBroker) readLine() string {
	b.t.Helper()
	b.deadline()

	line, err := b.r.ReadString('\n')
	require.NoError(b.t, err)
	return strings.TrimSuffix(line, "\n")
}

func (b *fakeBroker) readIdentify() map[string]any {
	b.t.Helper()

	require.Equal(b.t, "IDENTIFY", b.readLine())

	var size [4]byte
	_, err := io.ReadFull(b.r, size[:])
	require.NoError(b.t, err)

	body := make([]byte, binary.BigEndian.Uint32(size[:]))
	_, err = io.ReadFull(b.r, body)
	require.NoError(b.t, err)

	var v map[string]any
	require.NoError(b.t, sonic.Unmarshal(body, &v))
	return v
}

// readEOF waits until the client closed its side.
func (b *fakeBroker) readEOF() {
	b.t.Helper()
	b.deadline()

	_, err := io.Copy(io.Discard, b.r)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		b.t.Fatal("client did not close the connection")
	}
}

// reset aborts the connection with a TCP RST instead of a FIN.
func (b *fakeBroker) reset() {
	b.t.Helper()

	require.NoError(b.t, b.conn.(*net.TCPConn).SetLinger(0))
	require.NoError(b.t, b.conn.Close())
}

func (b *fakeBroker) write(buf []byte) {
	b.t.Helper()

	_, err := b.conn.Write(buf)
	require.NoError(b.t, err)
}

func (b *fakeBroker) writeFrame(t response.FrameType, body string) {
	b.write(response.AppendFrame(nil, t, []byte(body)))
}

func (b *fakeBroker) writeMsg(id string, attempts uint16, body string) {
	b.write(response.AppendFrame(nil, response.FRAME_TYPE_MESSAGE,
		response.AppendMsg(nil, uint64(time.Now().UnixNano()), attempts, []byte(id), []byte(body))))
}
