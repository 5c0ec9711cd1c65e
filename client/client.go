package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValerySidorin/nsqconn/internal/common/fnet"
	"github.com/ValerySidorin/nsqconn/internal/nsq/pool"
	"github.com/ValerySidorin/nsqconn/internal/nsq/proto/request"
	"github.com/ValerySidorin/nsqconn/internal/observability"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Conn is a single consumer connection to a broker. It is created connecting
// and ends in a terminal state; a closed Conn is never reused, call Connect
// again to reconnect.
type Conn struct {
	conf Config
	addr string

	dialer   *net.Dialer
	hostname func() (string, error)

	mu      sync.RWMutex
	nc      net.Conn
	out     *fnet.Outbound
	handler func(msg *Message)

	// cmdMu keeps pending acks in the same order as their commands on the wire.
	cmdMu sync.Mutex
	acks  *correlator[Response]
	flow  *flowController
	ps    parseState

	pool *ants.Pool

	state     atomic.Int32
	closed    atomic.Bool
	done      chan struct{}
	writeDone chan struct{}
	wg        sync.WaitGroup

	l *slog.Logger
}

// Connect validates conf and starts connecting in the background. Only
// configuration problems are returned; everything that happens on the wire
// is reported through conf.OnConnect and conf.OnError.
func Connect(ctx context.Context, conf Config, opts ...Option) (*Conn, error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	c := &Conn{
		dialer:    &net.Dialer{},
		hostname:  os.Hostname,
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		l:         slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := conf.setIdentity(c.hostname); err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}

	if conf.ConnectTimeout > 0 {
		c.dialer.Timeout = conf.ConnectTimeout
	}

	c.conf = conf
	c.addr = conf.Addr()
	c.acks = newCorrelator[Response](conf.MaxPendingAcks)
	c.flow = newFlowController(conf.ReadyThreshold)
	c.l = c.l.With("addr", c.addr)

	if conf.Handler.Async {
		p, err := ants.NewPool(conf.Handler.Pool.Size, ants.WithPreAlloc(conf.Handler.Pool.PreAlloc))
		if err != nil {
			return nil, fmt.Errorf("new pool: %w", err)
		}
		c.pool = p
	}

	c.advance(StateConnecting)
	go c.open(ctx)

	return c, nil
}

func (c *Conn) open(ctx context.Context) {
	ctx, span := observability.Tracer().Start(ctx, "nsq.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("net.peer.name", c.conf.Host),
			attribute.Int("net.peer.port", c.conf.Port),
		))
	defer span.End()

	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial")
		c.shutdown(StateClosed, connectError(err), false)
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		nc.Close()
		return
	}
	c.nc = nc
	c.out = fnet.NewOutbound(nc, c.conf.WriteTimeout, c.onWriteError, c.l)
	c.wg.Add(2)
	c.mu.Unlock()

	// The magic must precede every command, so it is queued before the
	// outbound becomes visible to the connect handler.
	c.out.EnqueueProto(request.MAGIC_V2)

	go func() {
		defer c.wg.Done()
		defer close(c.writeDone)
		c.out.WriteLoop()
	}()
	go c.readLoop()

	if !c.advance(StateConnected) {
		return
	}

	c.l.Debug("connected")
	span.AddEvent("connected")
	c.conf.OnConnect(c)
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	buf := pool.Get(c.conf.ReadBufferSize)[:c.conf.ReadBufferSize]
	defer pool.Put(buf)

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if perr := c.parse(buf[:n]); perr != nil {
				if !errors.Is(perr, errStopParsing) {
					c.forceClose(perr)
				}
				c.releaseParseState()
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				c.l.Debug("connection closed by peer")
				c.shutdown(StateClosed, nil, false)
			} else if !c.closed.Load() {
				c.shutdown(StateClosed, readError(err), false)
			}
			c.releaseParseState()
			return
		}
	}
}

func (c *Conn) onWriteError(err error) {
	c.shutdown(StateClosed, readError(err), false)
}

func (c *Conn) releaseParseState() {
	if c.ps.argBuf != nil {
		pool.Put(c.ps.argBuf)
	}

	if c.ps.payloadBuf != nil {
		pool.Put(c.ps.payloadBuf)
	}

	c.ps = parseState{}
}

// Close closes the connection cleanly: queued commands are flushed (bounded
// by the write timeout) and the error handler is not called. Close is
// idempotent and safe to call from handlers.
func (c *Conn) Close() error {
	c.shutdown(StateClosed, nil, true)
	return nil
}

// forceClose tears the connection down after a protocol violation. Unread
// bytes are discarded.
func (c *Conn) forceClose(err error) {
	c.shutdown(StateClosingForError, err, false)
}

// shutdown is the single teardown path. Only the first caller gets through;
// every later fault on the same transport is swallowed.
func (c *Conn) shutdown(st State, err error, graceful bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.advance(st)

	if err != nil {
		c.l.Error("connection failed", "state", st.String(), "err", err)
		if observability.MetricsEnabled() {
			observability.IncError(errorStage(err))
		}
		c.conf.OnError(c, err)
	}

	c.mu.Lock()
	nc, out := c.nc, c.out
	c.mu.Unlock()

	if out != nil {
		out.Close()
		if graceful {
			select {
			case <-c.writeDone:
			case <-time.After(c.conf.WriteTimeout):
			}
		}
	}

	if nc != nil {
		nc.Close()
	}

	if c.pool != nil {
		if graceful {
			if err := c.pool.ReleaseTimeout(c.conf.Handler.Pool.ReleaseTimeout); err != nil {
				c.l.Warn("release handler pool", "err", err)
			}
		} else {
			c.pool.Release()
		}
	}

	close(c.done)
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the read and write loops have exited.
func (c *Conn) Wait() {
	<-c.done
	c.wg.Wait()
}

func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) ReadyCount() int64 {
	n, _ := c.flow.counts()
	return n
}

func (c *Conn) InFlight() int64 {
	_, n := c.flow.counts()
	return n
}

// PendingAcks returns the number of commands still waiting for a response.
func (c *Conn) PendingAcks() int {
	return c.acks.len()
}

func errorStage(err error) string {
	switch {
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrRead):
		return "read"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "unknown"
	}
}
