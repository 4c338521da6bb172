package client

import (
	"context"
	"sync"
)

// Leases are advisory and process-local: they serialize consumers of one
// remote server within this process, but cannot stop other processes from
// using it concurrently.
var (
	leaseMu sync.Mutex
	leases  = make(map[string]*sync.Mutex)
)

func leaseFor(baseURL string) *sync.Mutex {
	leaseMu.Lock()
	defer leaseMu.Unlock()
	m, ok := leases[baseURL]
	if !ok {
		m = &sync.Mutex{}
		leases[baseURL] = m
	}
	return m
}

// Session is a leased client for a remote mock server. While the session is
// open, no other Acquire call in this process for the same base URL
// proceeds.
type Session struct {
	*Client
	release func()
}

// Acquire leases the remote server at baseURL, blocking until any previous
// session in this process has released it.
func Acquire(baseURL string, opts ...Option) *Session {
	m := leaseFor(baseURL)
	m.Lock()
	return &Session{Client: New(baseURL, opts...), release: m.Unlock}
}

// Release resets the remote server and ends the lease. The reset happens
// even for an unreachable server; the lease is always released.
func (s *Session) Release(ctx context.Context) error {
	defer s.release()
	return s.Reset(ctx)
}
