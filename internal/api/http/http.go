package http

import (
	"net"
	"strconv"
)

// DefaultHost keeps the kiosk API on loopback unless configured otherwise.
const DefaultHost = "127.0.0.1"

type Config struct {
	Host string `mapstructure:"host"`
	Port uint   `mapstructure:"port"`
	// AllowedOrigins lists the browser origins allowed by CORS. Empty
	// means no cross-origin access.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	return net.JoinHostPort(host, strconv.FormatUint(uint64(c.Port), 10))
}
