package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultServerPort is used when a server address has no port.
const DefaultServerPort = 3005

// ServerAddress is a validated moderation server address.
type ServerAddress struct {
	Host string
	Port int
}

// ParseServerAddress parses host[:port]. The host is either "localhost" or a
// dotted IPv4 quad; the port defaults to DefaultServerPort.
func ParseServerAddress(s string) (ServerAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ServerAddress{}, fmt.Errorf("%w: empty server address", ErrInvalidInput)
	}

	host, portStr, hasPort := strings.Cut(s, ":")
	port := DefaultServerPort
	if hasPort {
		p, err := parsePort(portStr)
		if err != nil {
			return ServerAddress{}, fmt.Errorf("%w: server address %q: %v", ErrInvalidInput, s, err)
		}
		port = p
	}

	if host != "localhost" && !isIPv4(host) {
		return ServerAddress{}, fmt.Errorf("%w: server address %q: host must be localhost or an IPv4 address", ErrInvalidInput, s)
	}

	return ServerAddress{Host: host, Port: port}, nil
}

// String returns host:port.
func (a ServerAddress) String() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// URL returns the websocket URL of the server.
func (a ServerAddress) URL() string {
	return "ws://" + a.String() + "/"
}

func parsePort(s string) (int, error) {
	if !isDigits(s) {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %q out of range 1-65535", s)
	}
	return p, nil
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if !isDigits(part) || len(part) > 3 {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
