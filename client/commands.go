package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ValerySidorin/nsqconn/internal/common/fnet"
	"github.com/ValerySidorin/nsqconn/internal/nsq/pool"
	"github.com/ValerySidorin/nsqconn/internal/nsq/proto/request"
	"github.com/ValerySidorin/nsqconn/internal/observability"
)

// Identify sends IDENTIFY with opts merged over the connection identity.
// The returned channel receives the broker's JSON answer. It is never
// written to if the connection dies first.
func (c *Conn) Identify(opts map[string]any) (<-chan Response, error) {
	body, err := marshalIdentify(c.identifyPayload(opts))
	if err != nil {
		return nil, fmt.Errorf("marshal identify: %w", err)
	}

	buf := pool.Get(len(request.CMD_IDENTIFY) + 1 + request.Uint32Len + len(body))
	defer pool.Put(buf)

	buf = request.AppendIdentify(buf, body)

	ch := make(chan Response, 1)
	if err := c.sendWithAck(request.CMD_IDENTIFY, buf, ch); err != nil {
		return nil, err
	}

	return ch, nil
}

// IdentifyWait is Identify that blocks until the broker answers, ctx is done
// or the connection is torn down.
func (c *Conn) IdentifyWait(ctx context.Context, opts map[string]any) (Response, error) {
	ch, err := c.Identify(opts)
	if err != nil {
		return Response{}, err
	}

	return c.waitResponse(ctx, ch)
}

// waitResponse prefers a response that is already delivered over a
// concurrent teardown.
func (c *Conn) waitResponse(ctx context.Context, ch <-chan Response) (Response, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.done:
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return Response{}, ErrConnClosed
		}
	}
}

// Subscribe registers h as the handler for every message delivered on this
// connection and sends SUB. The broker's acknowledgment is not reported.
func (c *Conn) Subscribe(topic, channel string, h func(msg *Message)) error {
	if !validTopicName(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	if !validTopicName(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	if h == nil {
		return ErrNoHandler
	}

	if c.pool != nil {
		handle := h
		h = func(msg *Message) {
			if err := c.pool.Submit(func() { handle(msg) }); err != nil {
				c.l.Error("submit message handler", "id", msg.ID.String(), "err", err)
			}
		}
	}

	c.mu.Lock()
	if c.handler != nil {
		c.mu.Unlock()
		return ErrAlreadySubscribed
	}
	c.handler = h
	c.mu.Unlock()

	buf := pool.Get(len(request.CMD_SUB) + len(topic) + len(channel) + 3)
	defer pool.Put(buf)

	buf = request.AppendSub(buf, topic, channel)

	if err := c.sendWithAck(request.CMD_SUB, buf, nil); err != nil {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
		return err
	}

	return nil
}

// Ready grants the broker credit for n messages and resets the in-flight count.
func (c *Conn) Ready(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReadyCount, n)
	}

	if _, err := c.outbound(); err != nil {
		return err
	}

	c.flow.setReady(int64(n), c.writeReady)
	return nil
}

func (c *Conn) Finish(id MessageID) error {
	buf := pool.Get(len(request.CMD_FIN) + len(id) + 2)
	defer pool.Put(buf)

	return c.send(request.CMD_FIN, request.AppendFin(buf, id[:]))
}

// Requeue asks the broker to redeliver the message after delay. The delay is
// sent in whole milliseconds.
func (c *Conn) Requeue(id MessageID, delay time.Duration) error {
	buf := pool.Get(len(request.CMD_REQ) + len(id) + 24)
	defer pool.Put(buf)

	return c.send(request.CMD_REQ, request.AppendReq(buf, id[:], delay))
}

func (c *Conn) Nop() error {
	return c.send(request.CMD_NOP, request.NOP_REQ)
}

// writeReady is called by the flow controller with its lock held.
func (c *Conn) writeReady(n int64) {
	buf := pool.Get(len(request.CMD_RDY) + 22)
	defer pool.Put(buf)

	if err := c.send(request.CMD_RDY, request.AppendRdy(buf, n)); err != nil {
		c.l.Debug("write ready", "count", n, "err", err)
		return
	}

	if observability.MetricsEnabled() {
		observability.SetReady(c.addr, n)
		observability.SetInFlight(c.addr, 0)
	}
}

func (c *Conn) outbound() (*fnet.Outbound, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()

	if out == nil {
		return nil, ErrNotConnected
	}

	return out, nil
}

func (c *Conn) send(cmd request.Command, proto []byte) error {
	out, err := c.outbound()
	if err != nil {
		return err
	}

	out.EnqueueProto(proto)

	if observability.MetricsEnabled() {
		observability.IncCommand(string(cmd))
	}
	return nil
}

// sendWithAck registers ch and writes proto as one step. A nil ch reserves a
// slot whose answer is discarded.
func (c *Conn) sendWithAck(cmd request.Command, proto []byte, ch chan Response) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if _, err := c.outbound(); err != nil {
		return err
	}

	if err := c.acks.next(ch); err != nil {
		return err
	}

	return c.send(cmd, proto)
}
