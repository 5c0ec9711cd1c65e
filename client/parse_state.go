package client

import "github.com/ValerySidorin/nsqconn/internal/nsq/proto/response"

const (
	OP_START int = iota

	OP_FRAME_HEADER_ARG
	OP_FRAME_PAYLOAD
)

type parseState struct {
	state      int
	argBuf     []byte
	payloadBuf []byte

	fa frameArg
}

type frameArg struct {
	size    uint32
	typ     response.FrameType
	bodyLen int
}
