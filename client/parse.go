package client

import (
	"encoding/binary"
	"errors"

	"github.com/ValerySidorin/nsqconn/internal/nsq/pool"
	"github.com/ValerySidorin/nsqconn/internal/nsq/proto/response"
	"github.com/ValerySidorin/nsqconn/internal/observability"
	"github.com/bytedance/sonic"
)

var errStopParsing = errors.New("stop parsing")

// parse feeds one chunk of the stream through the frame state machine.
// Frames are dispatched one at a time, in order. A non-nil error means the
// rest of buf, and of the stream, must be discarded.
func (c *Conn) parse(buf []byte) error {
	var (
		i int
		b byte
	)

	for i = 0; i < len(buf); i++ {
		b = buf[i]

		switch c.ps.state {
		case OP_START:
			if c.closed.Load() {
				return errStopParsing
			}
			c.ps.argBuf = pool.Get(response.HeaderLen)
			c.ps.argBuf = append(c.ps.argBuf, b)
			c.ps.state = OP_FRAME_HEADER_ARG
		case OP_FRAME_HEADER_ARG:
			toCopy := response.HeaderLen - len(c.ps.argBuf)
			avail := len(buf) - i

			if avail < toCopy {
				toCopy = avail
			}

			c.ps.argBuf = append(c.ps.argBuf, buf[i:i+toCopy]...)
			i = (i + toCopy) - 1

			if len(c.ps.argBuf) < response.HeaderLen {
				continue
			}

			err := c.parseFrameHeaderArg()
			pool.Put(c.ps.argBuf)
			c.ps.argBuf = nil
			if err != nil {
				c.ps.state = OP_START
				return err
			}

			if c.ps.fa.bodyLen == 0 {
				if err := c.dispatchFrame(nil); err != nil {
					return err
				}
				c.ps.fa, c.ps.state = frameArg{}, OP_START
				continue
			}

			c.ps.payloadBuf = pool.Get(c.ps.fa.bodyLen)
			c.ps.state = OP_FRAME_PAYLOAD
		case OP_FRAME_PAYLOAD:
			toCopy := c.ps.fa.bodyLen - len(c.ps.payloadBuf)
			avail := len(buf) - i

			if avail < toCopy {
				toCopy = avail
			}

			c.ps.payloadBuf = append(c.ps.payloadBuf, buf[i:i+toCopy]...)
			i = (i + toCopy) - 1

			if len(c.ps.payloadBuf) < c.ps.fa.bodyLen {
				continue
			}

			err := c.dispatchFrame(c.ps.payloadBuf)
			pool.Put(c.ps.payloadBuf)
			c.ps.payloadBuf, c.ps.fa, c.ps.state = nil, frameArg{}, OP_START
			if err != nil {
				return err
			}
		default:
			return protocolError(ErrParseProto, "invalid parse state '%d'", c.ps.state)
		}
	}

	return nil
}

func (c *Conn) parseFrameHeaderArg() error {
	c.ps.fa.size = binary.BigEndian.Uint32(c.ps.argBuf[0:4])
	c.ps.fa.typ = response.FrameType(binary.BigEndian.Uint32(c.ps.argBuf[4:response.HeaderLen]))

	if c.ps.fa.size < response.TypeLen {
		return protocolError(ErrParseProto, "invalid frame size '%d'", c.ps.fa.size)
	}

	bodyLen := uint64(c.ps.fa.size) - response.TypeLen
	if bodyLen > uint64(c.conf.MaxFrameSize) {
		return protocolError(ErrParseProto, "frame size '%d' exceeds limit", c.ps.fa.size)
	}

	c.ps.fa.bodyLen = int(bodyLen)
	return nil
}

// dispatchFrame handles one complete frame. body is only valid for the
// duration of the call.
func (c *Conn) dispatchFrame(body []byte) error {
	if observability.MetricsEnabled() {
		observability.IncFrame(frameTypeLabel(c.ps.fa.typ))
	}

	switch c.ps.fa.typ {
	case response.FRAME_TYPE_RESPONSE:
		return c.handleResponse(body)
	case response.FRAME_TYPE_ERROR:
		return serverError(body)
	case response.FRAME_TYPE_MESSAGE:
		return c.handleMessage(body)
	default:
		return protocolError(ErrParseProto, "unexpected frame type '%d'", c.ps.fa.typ)
	}
}

func (c *Conn) handleResponse(body []byte) error {
	if string(body) == string(response.HEARTBEAT_RESP) {
		c.l.Debug("heartbeat")
		if err := c.Nop(); err != nil && !errors.Is(err, ErrConnClosed) {
			return err
		}
		return nil
	}

	// A bare OK acknowledges without data and leaves the pending queue alone.
	if string(body) == string(response.OK_RESP) {
		return nil
	}

	var v any
	if err := sonic.ConfigStd.Unmarshal(body, &v); err != nil {
		return protocolError(err, "unexpected/invalid JSON response '%s'", body)
	}

	resp := Response{
		Body:  append([]byte(nil), body...),
		Value: v,
	}
	if !c.acks.send(resp) {
		c.l.Debug("dropped response without pending ack")
	}

	return nil
}

func (c *Conn) handleMessage(body []byte) error {
	decoded, err := response.DecodeMsg(body)
	if err != nil {
		return protocolError(err, "invalid message frame: %s", err)
	}

	msg := &Message{
		Timestamp: decoded.Timestamp,
		Attempts:  decoded.Attempts,
		Body:      append([]byte(nil), decoded.Body...),
		c:         c,
	}
	copy(msg.ID[:], decoded.ID)

	inFlight := c.flow.delivered()
	if observability.MetricsEnabled() {
		observability.SetInFlight(c.addr, inFlight)
	}

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()

	if h != nil {
		h(msg)
	} else {
		c.l.Warn("message without handler", "id", msg.ID.String())
	}

	c.flow.replenish(c.writeReady)
	return nil
}

func frameTypeLabel(t response.FrameType) string {
	switch t {
	case response.FRAME_TYPE_RESPONSE:
		return "response"
	case response.FRAME_TYPE_ERROR:
		return "error"
	case response.FRAME_TYPE_MESSAGE:
		return "message"
	default:
		return "unknown"
	}
}
