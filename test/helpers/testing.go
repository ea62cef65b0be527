package helpers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/anstrom/portprobe/internal/db"
)

const defaultTestTimeout = 30 * time.Second

// SetupTestDB connects to a migrated test database with no stored reports,
// or skips the test when none is reachable.
func SetupTestDB(t testing.TB) *db.DB {
	t.Helper()

	ctx, cancel := TestContext(defaultTestTimeout)
	defer cancel()

	database, _, err := ConnectToTestDatabase(ctx)
	if err != nil {
		t.Skipf("Skipping test - database not available: %v", err)
	}
	if err := CleanupReports(ctx, database); err != nil {
		_ = database.Close()
		t.Fatalf("Failed to clean test database: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cancel := TestContext(defaultTestTimeout)
		defer cancel()
		_ = CleanupReports(cleanupCtx, database)
		_ = database.Close()
	})
	return database
}

// OpenPorts starts n loopback listeners that accept and close connections
// and returns their ports. They stop when the test ends.
func OpenPorts(t testing.TB, n int) []int {
	t.Helper()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		t.Cleanup(func() { _ = ln.Close() })

		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				_ = conn.Close()
			}
		}()
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	return ports
}

// ClosedPort returns a loopback port that nothing listens on.
func ClosedPort(t testing.TB) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// TestContext provides a context with reasonable timeout for tests
func TestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = defaultTestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// SkipIfShort skips a test if running with -short flag
func SkipIfShort(t testing.TB, reason string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
