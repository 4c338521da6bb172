// Package httpmock provides configurable fake HTTP endpoints for tests.
// NewServer leases a real loopback server from a shared process-wide pool;
// rules installed on it decide how requests are answered, and assertion
// helpers explain mismatches using the server's request history.
package httpmock

import (
	"context"
	"testing"

	"github.com/alexliesenfeld/httpmock/pkg/pool"
)

// shared is the process-wide pool behind NewServer. It is created lazily on
// first use and bounded at pool.DefaultMaxInstances.
var shared = pool.New()

// NewServer leases a pristine mock server instance. The instance is
// returned to the pool automatically when the test finishes; its listener
// stays bound for the next lease. Tests running in parallel each get their
// own instance, blocking only when all pooled instances are in use.
func NewServer(t testing.TB) *pool.Instance {
	t.Helper()
	inst, err := shared.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquiring mock server: %v", err)
	}
	t.Cleanup(inst.Release)
	return inst
}
