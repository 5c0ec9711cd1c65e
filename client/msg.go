package client

import (
	"time"
)

type MessageID [16]byte

func (id MessageID) String() string {
	return string(id[:])
}

type Message struct {
	Timestamp uint64
	Attempts  uint16
	ID        MessageID
	Body      []byte

	c *Conn
}

func (m *Message) Finish() error {
	return m.c.Finish(m.ID)
}

func (m *Message) Requeue(delay time.Duration) error {
	return m.c.Requeue(m.ID, delay)
}

func (m Message) String() string {
	return string(m.Body)
}

// Response is a decoded JSON acknowledgment from the broker.
type Response struct {
	Body  []byte
	Value any
}
