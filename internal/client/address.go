package client

import "github.com/Secineralyr/Cotonestrum/internal/domain"

// DefaultPort is used when an address has no port.
const DefaultPort = domain.DefaultServerPort

// Address is a validated moderation server address.
type Address = domain.ServerAddress

// ParseAddress parses host[:port]. The host is either "localhost" or a
// dotted IPv4 quad; the port defaults to DefaultPort.
func ParseAddress(s string) (Address, error) {
	return domain.ParseServerAddress(s)
}
