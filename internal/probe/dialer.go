package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens TCP connections. *net.Dialer satisfies it, as do the SOCKS5
// dialers returned by NewProxyDialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDirectDialer returns a dialer connecting straight to the target. The
// timeout caps every dial independently of the caller's context.
func NewDirectDialer(timeout time.Duration) Dialer {
	return &net.Dialer{Timeout: timeout}
}

// NewProxyDialer returns a dialer tunnelling through the SOCKS5 proxy at
// proxyURL ("socks5://[user:pass@]host:port"). Refused connections behind
// the proxy surface as proxy errors, so they classify as Error rather than
// Closed.
func NewProxyDialer(proxyURL string, timeout time.Duration) (Dialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", proxyURL)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	forward := &net.Dialer{Timeout: timeout}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}
