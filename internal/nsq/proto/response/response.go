package response

import (
	"encoding/binary"
	"errors"
)

type FrameType uint32

const (
	FRAME_TYPE_RESPONSE FrameType = 0
	FRAME_TYPE_ERROR    FrameType = 1
	FRAME_TYPE_MESSAGE  FrameType = 2
)

const (
	// HeaderLen is size (uint32) plus frame type (uint32).
	HeaderLen = 8
	// TypeLen is the part of size taken by the frame type.
	TypeLen = 4

	// MsgPrefixLen is timestamp (uint64) + attempts (uint16) + id (16 bytes).
	MsgPrefixLen = 26
	MsgIDLen     = 16
)

var (
	HEARTBEAT_RESP = []byte("_heartbeat_")
	OK_RESP        = []byte("OK")
)

var ErrShortMessage = errors.New("message frame shorter than fixed prefix")

// Msg is a decoded message frame body. ID and Body alias the input buffer.
type Msg struct {
	Timestamp uint64
	Attempts  uint16
	ID        []byte
	Body      []byte
}

// DecodeMsg parses the fixed 26 byte prefix of a message frame body.
func DecodeMsg(body []byte) (Msg, error) {
	if len(body) < MsgPrefixLen {
		return Msg{}, ErrShortMessage
	}

	t1 := binary.BigEndian.Uint32(body[0:4])
	t2 := binary.BigEndian.Uint32(body[4:8])

	return Msg{
		Timestamp: uint64(t2) | uint64(t1)<<32,
		Attempts:  binary.BigEndian.Uint16(body[8:10]),
		ID:        body[10 : 10+MsgIDLen],
		Body:      body[MsgPrefixLen:],
	}, nil
}

// AppendFrame appends a complete frame: size, type and body.
func AppendFrame(buf []byte, t FrameType, body []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)+TypeLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(t))
	return append(buf, body...)
}

// AppendMsg appends a message frame body (without the frame header).
func AppendMsg(buf []byte, timestamp uint64, attempts uint16, id []byte, body []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, timestamp)
	buf = binary.BigEndian.AppendUint16(buf, attempts)
	buf = append(buf, id[:MsgIDLen]...)
	return append(buf, body...)
}
