package client

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// identifyPayload merges opts over the connection identity. A user_agent
// ending with a space is treated as a prefix for the default agent.
func (c *Conn) identifyPayload(opts map[string]any) map[string]any {
	p := map[string]any{
		"client_id":           c.conf.ClientID,
		"short_id":            c.conf.ClientID,
		"hostname":            c.conf.Hostname,
		"long_id":             c.conf.Hostname,
		"feature_negotiation": true,
	}

	for k, v := range opts {
		p[k] = v
	}

	var ua string
	switch v := p["user_agent"].(type) {
	case nil:
	case string:
		ua = v
	case []byte:
		ua = string(v)
	default:
		ua = fmt.Sprint(v)
	}
	if ua == "" {
		ua = c.conf.UserAgent
	}
	p["user_agent"] = userAgent(ua)

	for k, v := range p {
		if v == nil {
			delete(p, k)
		}
	}

	return p
}

func userAgent(ua string) string {
	switch {
	case ua == "":
		return DefaultUserAgent
	case strings.HasSuffix(ua, " "):
		return ua + DefaultUserAgent
	default:
		return ua
	}
}

func marshalIdentify(p map[string]any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(p)
}
