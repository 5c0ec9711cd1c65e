package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      4150,
		OnConnect: func(*Conn) {},
		OnError:   func(*Conn, error) {},
	}
}

func TestConfig_ValidateAndSetDefaults(t *testing.T) {
	conf := validConfig()
	require.NoError(t, conf.ValidateAndSetDefaults())

	assert.Equal(t, 0.25, conf.ReadyThreshold)
	assert.Equal(t, 10*time.Second, conf.WriteTimeout)
	assert.Equal(t, 4096, conf.ReadBufferSize)
	assert.Equal(t, 4*1024*1024, conf.MaxFrameSize)
	assert.Equal(t, 1024, conf.MaxPendingAcks)
	assert.Zero(t, conf.ConnectTimeout)
	assert.Equal(t, "127.0.0.1:4150", conf.Addr())
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		expErr error
	}{
		{name: "empty host", modify: func(c *Config) { c.Host = "" }, expErr: ErrEmptyHost},
		{name: "zero port", modify: func(c *Config) { c.Port = 0 }, expErr: ErrInvalidPort},
		{name: "big port", modify: func(c *Config) { c.Port = 70000 }, expErr: ErrInvalidPort},
		{name: "no connect handler", modify: func(c *Config) { c.OnConnect = nil }, expErr: ErrNoConnectHandler},
		{name: "no error handler", modify: func(c *Config) { c.OnError = nil }, expErr: ErrNoErrorHandler},
		{name: "threshold", modify: func(c *Config) { c.ReadyThreshold = 1.5 }, expErr: ErrInvalidThreshold},
		{name: "negative timeout", modify: func(c *Config) { c.ConnectTimeout = -time.Second }, expErr: ErrNegativeParameter},
		{name: "negative pool", modify: func(c *Config) {
			c.Handler.Async = true
			c.Handler.Pool.Size = -1
		}, expErr: ErrEmptyPoolSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := validConfig()
			tt.modify(&conf)

			err := conf.ValidateAndSetDefaults()
			assert.ErrorIs(t, err, ErrConfig)
			assert.ErrorIs(t, err, tt.expErr)
		})
	}
}

func TestConfig_AsyncDefaults(t *testing.T) {
	conf := validConfig()
	conf.Handler.Async = true
	require.NoError(t, conf.ValidateAndSetDefaults())

	assert.Equal(t, 1000, conf.Handler.Pool.Size)
	assert.Equal(t, 5*time.Second, conf.Handler.Pool.ReleaseTimeout)
}

func TestConfig_SetIdentity(t *testing.T) {
	conf := validConfig()
	require.NoError(t, conf.setIdentity(func() (string, error) { return "node-7.dc1.example.com", nil }))

	assert.Equal(t, "node-7.dc1.example.com", conf.Hostname)
	assert.Equal(t, "node-7", conf.ClientID)

	conf = validConfig()
	conf.Hostname = "fixed"
	conf.ClientID = "id"
	require.NoError(t, conf.setIdentity(func() (string, error) { return "", errors.New("unused") }))
	assert.Equal(t, "fixed", conf.Hostname)
	assert.Equal(t, "id", conf.ClientID)

	conf = validConfig()
	err := conf.setIdentity(func() (string, error) { return "", errors.New("no hostname") })
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidTopicName(t *testing.T) {
	assert.True(t, validTopicName("events"))
	assert.True(t, validTopicName("a.b_c-d"))
	assert.True(t, validTopicName("tmp#ephemeral"))
	assert.False(t, validTopicName(""))
	assert.False(t, validTopicName("has space"))
	assert.False(t, validTopicName("bad#tag"))
	assert.True(t, validTopicName(strings.Repeat("a", 64)))
	assert.False(t, validTopicName(strings.Repeat("a", 65)))
}
