package client

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Product = "nsqconn"
	Version = "0.1.0"

	DefaultUserAgent = Product + "/" + Version
)

var (
	ErrEmptyHost         = errors.New("empty host")
	ErrInvalidPort       = errors.New("invalid port")
	ErrNoConnectHandler  = errors.New("nil connect handler")
	ErrNoErrorHandler    = errors.New("nil error handler")
	ErrInvalidThreshold  = errors.New("ready threshold must be in (0, 1]")
	ErrEmptyPoolSize     = errors.New("empty pool size")
	ErrNegativeParameter = errors.New("negative parameter")
)

var validName = regexp.MustCompile(`^[.a-zA-Z0-9_-]+(#ephemeral)?$`)

type PoolConfig struct {
	Size           int
	PreAlloc       bool
	ReleaseTimeout time.Duration
}

// HandlerConfig controls how the message handler is invoked. By default it
// runs on the read loop, one message at a time, in delivery order.
type HandlerConfig struct {
	Async bool
	Pool  PoolConfig
}

type Config struct {
	Host string
	Port int

	// OnConnect is called once after the transport connected and the
	// protocol magic was written.
	OnConnect func(c *Conn)
	// OnError receives every connection-fatal failure. There is no default.
	OnError func(c *Conn, err error)

	ClientID  string
	Hostname  string
	UserAgent string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
	MaxFrameSize   int
	MaxPendingAcks int
	ReadyThreshold float64

	Handler HandlerConfig
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.Host == "" {
		return configError(ErrEmptyHost)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return configError(ErrInvalidPort)
	}

	if c.OnConnect == nil {
		return configError(ErrNoConnectHandler)
	}

	if c.OnError == nil {
		return configError(ErrNoErrorHandler)
	}

	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 || c.ReadBufferSize < 0 ||
		c.MaxFrameSize < 0 || c.MaxPendingAcks < 0 {
		return configError(ErrNegativeParameter)
	}

	if c.ReadyThreshold == 0 {
		c.ReadyThreshold = 0.25
	}
	if c.ReadyThreshold < 0 || c.ReadyThreshold > 1 {
		return configError(ErrInvalidThreshold)
	}

	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 4096
	}

	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 4 * 1024 * 1024
	}

	if c.MaxPendingAcks == 0 {
		c.MaxPendingAcks = 1024
	}

	if c.Handler.Async {
		if c.Handler.Pool.Size == 0 {
			c.Handler.Pool.Size = 1000
		}
		if c.Handler.Pool.Size < 0 {
			return configError(ErrEmptyPoolSize)
		}
		if c.Handler.Pool.ReleaseTimeout == 0 {
			c.Handler.Pool.ReleaseTimeout = 5 * time.Second
		}
	}

	return nil
}

// setIdentity fills ClientID and Hostname from the host name provider when
// they were not configured.
func (c *Config) setIdentity(hostname func() (string, error)) error {
	if c.Hostname == "" {
		h, err := hostname()
		if err != nil {
			return configError(err)
		}
		c.Hostname = h
	}

	if c.ClientID == "" {
		c.ClientID, _, _ = strings.Cut(c.Hostname, ".")
	}

	return nil
}

func validTopicName(name string) bool {
	return validName.MatchString(name) && len(name) <= 64
}
