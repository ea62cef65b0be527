package banner

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts connections on a loopback listener and hands each one to
// handle. It returns the listener's port.
func serveOnce(t *testing.T, handle func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestGrab(t *testing.T) {
	tests := []struct {
		name   string
		handle func(net.Conn)
		want   string
	}{
		{
			name: "greeting is trimmed",
			handle: func(c net.Conn) {
				_, _ = c.Write([]byte("  SSH-2.0-OpenSSH_9.6\r\n"))
				_ = c.Close()
			},
			want: "SSH-2.0-OpenSSH_9.6",
		},
		{
			name:   "immediate close",
			handle: func(c net.Conn) { _ = c.Close() },
			want:   "",
		},
		{
			name: "silent service",
			handle: func(c net.Conn) {
				time.Sleep(time.Second)
				_ = c.Close()
			},
			want: NoBanner,
		},
		{
			name: "binary garbage",
			handle: func(c net.Conn) {
				_, _ = c.Write([]byte{0xff, 0xfe, 0xfd})
				_ = c.Close()
			},
			want: NoBanner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := serveOnce(t, tt.handle)
			g := New(WithTimeout(200 * time.Millisecond))
			assert.Equal(t, tt.want, g.Grab(context.Background(), "127.0.0.1", port))
		})
	}
}

func TestGrab_MaxBytes(t *testing.T) {
	port := serveOnce(t, func(c net.Conn) {
		_, _ = c.Write([]byte(strings.Repeat("a", 64)))
		_ = c.Close()
	})

	g := New(WithMaxBytes(8))
	assert.Equal(t, "aaaaaaaa", g.Grab(context.Background(), "127.0.0.1", port))
}

func TestGrab_ClosedPort(t *testing.T) {
	g := New(WithTimeout(200 * time.Millisecond))
	assert.Equal(t, NoBanner, g.Grab(context.Background(), "127.0.0.1", closedPort(t)))
}

func TestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "portprobe-test")
		w.Header().Set("Server", "test-server")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := New(WithTimeout(time.Second))

	t.Run("with scheme", func(t *testing.T) {
		headers := g.Headers(context.Background(), srv.URL)
		assert.Equal(t, "portprobe-test", headers["X-Powered-By"])
		assert.Equal(t, "test-server", headers["Server"])
		assert.NotContains(t, headers, ErrorKey)
	})

	t.Run("without scheme", func(t *testing.T) {
		headers := g.Headers(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
		assert.Equal(t, "portprobe-test", headers["X-Powered-By"])
	})
}

func TestHeaders_FollowsRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Location", "/home")
			w.Header().Set("X-Hop", "first")
			w.WriteHeader(http.StatusFound)
		case "/home":
			w.Header().Set("X-Hop", "final")
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Location", r.URL.Path+"x")
			w.WriteHeader(http.StatusFound)
		}
	}))
	defer srv.Close()

	g := New(WithTimeout(time.Second))

	headers := g.Headers(context.Background(), srv.URL)
	assert.Equal(t, "final", headers["X-Hop"])
	assert.NotContains(t, headers, "Location")

	headers = g.Headers(context.Background(), srv.URL+"/loop")
	require.Len(t, headers, 1)
	assert.Contains(t, headers[ErrorKey], "redirect")
}

func TestHeaders_Failure(t *testing.T) {
	g := New(WithTimeout(200 * time.Millisecond))
	headers := g.Headers(context.Background(), "127.0.0.1:"+strconv.Itoa(closedPort(t)))

	require.Len(t, headers, 1)
	assert.NotEmpty(t, headers[ErrorKey])
}

func TestHeaders_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	headers := New().Headers(ctx, "http://127.0.0.1:1")
	assert.Equal(t, context.Canceled.Error(), headers[ErrorKey])
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://example.com", NormalizeURL("example.com"))
	assert.Equal(t, "https://example.com", NormalizeURL("https://example.com"))
	assert.Equal(t, "http://example.com:8080/x", NormalizeURL(" http://example.com:8080/x "))
}
