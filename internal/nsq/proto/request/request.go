// Package request builds the client side of the V2 text command protocol.
// Every Append* function appends one complete command to buf and returns the
// extended slice, so callers can build commands on pooled buffers.
package request

import (
	"encoding/binary"
	"strconv"
	"time"
)

const (
	Uint32Len = 4

	MsgIDLen = 16
)

type Command string

const (
	CMD_IDENTIFY Command = "IDENTIFY"
	CMD_SUB      Command = "SUB"
	CMD_RDY      Command = "RDY"
	CMD_FIN      Command = "FIN"
	CMD_REQ      Command = "REQ"
	CMD_NOP      Command = "NOP"
)

var (
	// MAGIC_V2 is written once, right after the transport connects.
	MAGIC_V2 = []byte("  V2")

	NOP_REQ = []byte("NOP\n")
)

// AppendIdentify appends IDENTIFY followed by the length-prefixed JSON body.
// There is no newline after the body.
func AppendIdentify(buf []byte, body []byte) []byte {
	buf = append(buf, CMD_IDENTIFY...)
	buf = append(buf, '\n')
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

func AppendSub(buf []byte, topic, channel string) []byte {
	buf = append(buf, CMD_SUB...)
	buf = append(buf, ' ')
	buf = append(buf, topic...)
	buf = append(buf, ' ')
	buf = append(buf, channel...)
	return append(buf, '\n')
}

func AppendRdy(buf []byte, n int64) []byte {
	buf = append(buf, CMD_RDY...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, n, 10)
	return append(buf, '\n')
}

func AppendFin(buf []byte, id []byte) []byte {
	buf = append(buf, CMD_FIN...)
	buf = append(buf, ' ')
	buf = append(buf, id...)
	return append(buf, '\n')
}

// AppendReq appends REQ with the delay rendered in whole milliseconds.
func AppendReq(buf []byte, id []byte, delay time.Duration) []byte {
	buf = append(buf, CMD_REQ...)
	buf = append(buf, ' ')
	buf = append(buf, id...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(delay/time.Millisecond), 10)
	return append(buf, '\n')
}

func AppendNop(buf []byte) []byte {
	return append(buf, NOP_REQ...)
}
