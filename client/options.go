package client

import (
	"log/slog"
	"net"
)

type Option func(c *Conn)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.l = l
	}
}

// WithHostnameFunc overrides os.Hostname as the source of the default
// hostname and client id.
func WithHostnameFunc(f func() (string, error)) Option {
	return func(c *Conn) {
		c.hostname = f
	}
}

func WithDialer(d *net.Dialer) Option {
	return func(c *Conn) {
		c.dialer = d
	}
}
