package config

import (
	"net"
	"strconv"
	"time"

	"github.com/ValerySidorin/nsqconn/client"
	"github.com/ValerySidorin/nsqconn/internal/observability"
)

type Config struct {
	Log           LogConfig            `yaml:"log"`
	NSQ           NSQConfig            `yaml:"nsq"`
	Consumer      ConsumerConfig       `yaml:"consumer"`
	Observability observability.Config `yaml:"observability"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Type  string `yaml:"type"`
}

type NSQConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	Hostname       string        `yaml:"hostname"`
	UserAgent      string        `yaml:"user_agent"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxFrameSize   int           `yaml:"max_frame_size"`
	MaxPendingAcks int           `yaml:"max_pending_acks"`
	ReadyThreshold float64       `yaml:"ready_threshold"`
	Handler        HandlerConfig `yaml:"handler"`
}

type HandlerConfig struct {
	Async bool       `yaml:"async"`
	Pool  PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	Size           int           `yaml:"size"`
	PreAlloc       bool          `yaml:"pre_alloc"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

type ConsumerConfig struct {
	Topic       string         `yaml:"topic"`
	Channel     string         `yaml:"channel"`
	MaxInFlight int            `yaml:"max_in_flight"`
	Identify    map[string]any `yaml:"identify"`
}

func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}

	if c.Log.Type != "json" && c.Log.Type != "text" {
		c.Log.Type = "text"
	}

	if c.NSQ.Host == "" {
		c.NSQ.Host = "127.0.0.1"
	}

	if c.NSQ.Port == 0 {
		c.NSQ.Port = 4150
	}

	if c.NSQ.ConnectTimeout == 0 {
		c.NSQ.ConnectTimeout = 5 * time.Second
	}

	res := &c.Observability.Tracing.Resource
	if res.ServiceName == "" {
		res.ServiceName = client.Product
	}
	if res.ServiceVersion == "" {
		res.ServiceVersion = client.Version
	}
	res.BrokerAddr = c.NSQ.Addr()

	if c.Consumer.MaxInFlight == 0 {
		c.Consumer.MaxInFlight = 1
	}

	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Addr == "" {
		c.Observability.Metrics.Addr = ":9150"
	}

	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

func (c *NSQConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig converts the file configuration into a client.Config. Handlers
// are not part of the file and must be supplied by the caller.
func (c *NSQConfig) ClientConfig(
	onConnect func(c *client.Conn),
	onError func(c *client.Conn, err error),
) client.Config {
	return client.Config{
		Host:           c.Host,
		Port:           c.Port,
		OnConnect:      onConnect,
		OnError:        onError,
		ClientID:       c.ClientID,
		Hostname:       c.Hostname,
		UserAgent:      c.UserAgent,
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		ReadBufferSize: c.ReadBufferSize,
		MaxFrameSize:   c.MaxFrameSize,
		MaxPendingAcks: c.MaxPendingAcks,
		ReadyThreshold: c.ReadyThreshold,
		Handler: client.HandlerConfig{
			Async: c.Handler.Async,
			Pool: client.PoolConfig{
				Size:           c.Handler.Pool.Size,
				PreAlloc:       c.Handler.Pool.PreAlloc,
				ReleaseTimeout: c.Handler.Pool.ReleaseTimeout,
			},
		},
	}
}
