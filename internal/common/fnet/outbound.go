package fnet

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValerySidorin/nsqconn/internal/nsq/pool"
)

const (
	maxBufSize    = 65536
	MaxVectorSize = 1024
)

// Conn is the write half of a transport.
type Conn interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// Outbound buffers protocol bytes and flushes them to the transport from a
// single WriteLoop goroutine. Bytes are written in the order they were enqueued.
type Outbound struct {
	v      net.Buffers   // vector
	wdl    time.Duration // write deadline
	c      *sync.Cond
	pb     int64 // pending bytes
	mu     sync.Mutex
	conn   Conn
	closed atomic.Bool

	onError func(err error)
	errOnce sync.Once

	l *slog.Logger
}

// NewOutbound creates an outbound buffer for conn. onError, if set, is called
// at most once with the first write error; the outbound is closed afterwards.
func NewOutbound(
	conn Conn, wdl time.Duration,
	onError func(err error), l *slog.Logger) *Outbound {
	o := &Outbound{
		conn:    conn,
		wdl:     wdl,
		onError: onError,
		l:       l,
	}
	o.c = sync.NewCond(&(o.mu))

	return o
}

func (o *Outbound) WriteLoop() {
	waitOK := true
	var closed bool

	for {
		o.mu.Lock()
		if closed = o.isClosed(); !closed {
			if waitOK && o.pb == 0 {
				o.c.Wait()
				closed = o.isClosed()
			}
		}

		if closed {
			o.flushOutbound()
			o.release()
			o.mu.Unlock()
			return
		}

		waitOK = o.flushOutbound()
		o.mu.Unlock()
	}
}

func (o *Outbound) EnqueueProto(proto []byte) {
	if o.isClosed() {
		return
	}

	o.mu.Lock()
	o.queueOutboundNoLock(proto)
	o.mu.Unlock()
	o.signalFlush()
}

func (o *Outbound) EnqueueProtoMulti(protos ...[]byte) {
	if o.isClosed() {
		return
	}

	o.mu.Lock()
	for _, proto := range protos {
		o.queueOutboundNoLock(proto)
	}
	o.mu.Unlock()
	o.signalFlush()
}

// PendingBytes returns the number of bytes not yet handed to the transport.
func (o *Outbound) PendingBytes() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pb
}

// flushOutbound must be called with o.mu held. The lock is released while
// the transport write is in progress so producers are never blocked on I/O.
// It returns false when the caller should flush again without waiting.
func (o *Outbound) flushOutbound() bool {
	if o.conn == nil || o.pb == 0 {
		return true
	}

	consumed := len(o.v)
	if consumed > MaxVectorSize {
		consumed = MaxVectorSize
	}
	var _orig [MaxVectorSize][]byte
	orig := append(_orig[:0], o.v[:consumed]...)
	// WriteTo consumes the vector it is called on, orig keeps the slices for the pool.
	wv := append(net.Buffers(nil), orig...)
	o.v = o.v[consumed:]
	if len(o.v) == 0 {
		o.v = nil
	}

	o.mu.Unlock()
	if o.wdl > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.wdl))
	}
	n, err := wv.WriteTo(o.conn)
	if o.wdl > 0 {
		_ = o.conn.SetWriteDeadline(time.Time{})
	}
	o.mu.Lock()

	o.pb -= n
	for i := range orig {
		pool.Put(orig[i][:0])
	}

	if err != nil {
		if !o.isClosed() {
			o.l.Error("write buffers", "err", err)
			o.reportError(err)
		}
		o.closed.Store(true)
		return true
	}

	return o.pb == 0
}

func (o *Outbound) reportError(err error) {
	if o.onError == nil {
		return
	}
	o.errOnce.Do(func() {
		go o.onError(err)
	})
}

func (o *Outbound) release() {
	for i := range o.v {
		pool.Put(o.v[i][:0])
	}
	o.v = nil
	o.pb = 0
}

func (o *Outbound) signalFlush() {
	o.c.Signal()
}

func (o *Outbound) queueOutboundNoLock(data []byte) {
	o.pb += int64(len(data))
	toBuffer := data
	if len(o.v) > 0 {
		last := &o.v[len(o.v)-1]
		if free := cap(*last) - len(*last); free > 0 {
			if l := len(toBuffer); l < free {
				free = l
			}
			*last = append(*last, toBuffer[:free]...)
			toBuffer = toBuffer[free:]
		}
	}

	for len(toBuffer) > 0 {
		new := pool.Get(len(toBuffer))
		n := copy(new[:cap(new)], toBuffer)
		o.v = append(o.v, new[:n])
		toBuffer = toBuffer[n:]
	}
}

func (o *Outbound) isClosed() bool {
	return o.closed.Load()
}

// Close stops the write loop after a final flush of whatever is queued.
func (o *Outbound) Close() {
	o.mu.Lock()
	o.closed.Store(true)
	o.mu.Unlock()
	o.c.Broadcast()
}
