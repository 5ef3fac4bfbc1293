package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
)

// defaultTCPAddress is used for "tcp://" with no host.
const defaultTCPAddress = "localhost:7340"

// ParseURL splits a connection URL into network and address.
//
// Supported formats:
//   - "unix:///run/camera-be.sock" (Unix socket)
//   - "tcp://localhost:7340" (TCP)
func ParseURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = defaultTCPAddress
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Listen opens a listener for a connection URL. A stale unix socket file
// left by a previous run is removed first.
//
// Parameters:
//   - ctx: Context for the listen call
//   - connURL: unix:///path or tcp://host:port
//
// Returns:
//   - net.Listener: Bound listener
//   - error: If the URL is invalid, the path holds a non-socket, or the
//     bind fails
//
// Example:
//
//	l, err := transport.Listen(ctx, "unix:///run/camera-be.sock")
func Listen(ctx context.Context, connURL string) (net.Listener, error) {
	network, address, err := ParseURL(connURL)
	if err != nil {
		return nil, err
	}

	if network == "unix" {
		if err := removeStaleSocket(address); err != nil {
			return nil, err
		}
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listen %s://%s: %w", network, address, err)
	}
	return l, nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if fi.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// Dial connects to a backend listening on connURL and wraps the
// connection in a Conn.
func Dial(ctx context.Context, connURL string) (*Conn, error) {
	network, address, err := ParseURL(connURL)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return NewConn(conn), nil
}
