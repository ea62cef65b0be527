// Package banner reads service banners over raw TCP and fetches HTTP
// response headers. Both operations degrade to a sentinel value instead of
// returning an error, so callers can print the result directly.
package banner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valyala/fasthttp"

	"github.com/anstrom/portprobe/internal/httpclient"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/probe"
)

const (
	// NoBanner is returned when a banner cannot be read.
	NoBanner = "No banner found."

	// ErrorKey is the single key of the header map returned on failure.
	ErrorKey = "Error"

	DefaultTimeout  = 2 * time.Second
	DefaultMaxBytes = 1024
)

// Grabber reads banners and headers.
type Grabber struct {
	dialer   probe.Dialer
	client   *fasthttp.Client
	timeout  time.Duration
	maxBytes int
}

// Option configures a Grabber.
type Option func(*Grabber)

// WithDialer routes banner connections through d, e.g. a SOCKS5 dialer.
func WithDialer(d probe.Dialer) Option {
	return func(g *Grabber) { g.dialer = d }
}

// WithTimeout sets the connect+read timeout for banners and the request
// timeout for headers.
func WithTimeout(d time.Duration) Option {
	return func(g *Grabber) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxBytes caps how much of a banner is read.
func WithMaxBytes(n int) Option {
	return func(g *Grabber) {
		if n > 0 {
			g.maxBytes = n
		}
	}
}

// New creates a Grabber with a 2s timeout and a 1024 byte banner cap.
func New(opts ...Option) *Grabber {
	g := &Grabber{
		timeout:  DefaultTimeout,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dialer == nil {
		g.dialer = probe.NewDirectDialer(g.timeout)
	}
	g.client = &fasthttp.Client{
		ReadTimeout:         g.timeout,
		WriteTimeout:        g.timeout,
		MaxIdleConnDuration: 5 * time.Second,
		Dial: func(addr string) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
			defer cancel()
			return g.dialer.DialContext(ctx, "tcp", addr)
		},
	}
	return g
}

// Grab connects to host:port and returns whatever the service sends first,
// trimmed of surrounding whitespace. Any failure yields NoBanner. A service
// that closes the connection without sending anything yields "".
func (g *Grabber) Grab(ctx context.Context, host string, port int) string {
	text, err := g.read(ctx, host, port)
	if err != nil {
		logging.Debug("Banner grab failed", "host", host, "port", port, "error", err)
		return NoBanner
	}
	return text
}

func (g *Grabber) read(ctx context.Context, host string, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := g.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, g.maxBytes)
	n, err := conn.Read(buf)
	if n == 0 && err != nil && !stderrors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read banner: %w", err)
	}

	data := bytes.TrimSpace(buf[:n])
	if !utf8.Valid(data) {
		return "", stderrors.New("banner is not valid UTF-8")
	}
	return string(data), nil
}

// Headers issues a GET to rawURL and returns the headers of the final
// response after following redirects. A URL without a scheme is fetched
// over http://. On failure the map holds a
// single ErrorKey entry describing the problem.
func (g *Grabber) Headers(ctx context.Context, rawURL string) map[string]string {
	headers, err := g.fetchHeaders(ctx, NormalizeURL(rawURL))
	if err != nil {
		logging.Debug("Header fetch failed", "url", rawURL, "error", err)
		return map[string]string{ErrorKey: err.Error()}
	}
	return headers
}

func (g *Grabber) fetchHeaders(ctx context.Context, url string) (map[string]string, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := httpclient.Do(ctx, g.client, req, resp, g.timeout, httpclient.DefaultMaxRedirects); err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if existing, ok := headers[k]; ok {
			headers[k] = existing + ", " + string(value)
			return
		}
		headers[k] = string(value)
	})
	return headers, nil
}

// NormalizeURL prefixes http:// when rawURL does not start with "http".
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "http") {
		return rawURL
	}
	return "http://" + rawURL
}
