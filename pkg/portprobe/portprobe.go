// Package portprobe tests whether TCP ports can be bound on this host.
package portprobe

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Prober reports whether a port is free to bind
type Prober interface {
	IsAvailable(port int) bool
}

// ProberFunc adapts a function to Prober
type ProberFunc func(port int) bool

func (f ProberFunc) IsAvailable(port int) bool {
	return f(port)
}

// TCPProber probes by binding a listener and closing it right away.
// Host is the interface to bind; empty means all interfaces.
type TCPProber struct {
	Host string
}

// IsAvailable never fails: any bind error (in use, permission, bad port) reads as unavailable.
// The result is advisory; another process may take the port right after the probe.
func (p TCPProber) IsAvailable(port int) bool {
	if port < MinPort || port > MaxPort {
		return false
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort returns the smallest port in [start, end] that prober reports free
func FindAvailablePort(prober Prober, start, end int) (int, error) {
	if start < MinPort || end > MaxPort || start > end {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid port range %d-%d", start, end), nil)
	}
	for port := start; port <= end; port++ {
		if prober.IsAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.NewPortResolutionError(fmt.Sprintf("no available ports in range %d-%d", start, end), nil).
		WithContext("start", start).
		WithContext("end", end)
}
