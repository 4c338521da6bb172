// Package history keeps a bounded, in-memory record of requests a mock
// server has received. The buffer is FIFO: when capacity is reached, the
// oldest record is evicted to admit the newest.
package history

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// DefaultCapacity is used when no explicit limit is configured.
const DefaultCapacity = 1000

// Record is one received request, whether or not a rule matched it.
type Record struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Scheme    string      `json:"scheme"`
	Host      string      `json:"host"`
	Port      int         `json:"port"`
	Path      string      `json:"path"`
	Query     string      `json:"query,omitempty"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	// MatchedRuleID is empty when no rule matched.
	MatchedRuleID string `json:"matched_rule_id,omitempty"`
}

// RecordFromView builds a record from a request snapshot.
func RecordFromView(v *rule.RequestView, matchedRuleID string) *Record {
	return &Record{
		Method:        v.Method,
		Scheme:        v.Scheme,
		Host:          v.Host,
		Port:          v.Port,
		Path:          v.Path,
		Query:         v.Query.Encode(),
		Headers:       v.Headers.Clone(),
		Body:          append([]byte(nil), v.Body...),
		MatchedRuleID: matchedRuleID,
	}
}

// View rebuilds a request snapshot from the record, for re-evaluating
// matchers during diagnostics.
func (r *Record) View() *rule.RequestView {
	req := &http.Request{Header: r.Headers}
	q, _ := url.ParseQuery(r.Query)
	return &rule.RequestView{
		Method:  r.Method,
		Scheme:  r.Scheme,
		Host:    r.Host,
		Port:    r.Port,
		Path:    r.Path,
		Query:   q,
		Headers: r.Headers,
		Cookies: req.Cookies(),
		Body:    r.Body,
	}
}

// Buffer is a fixed-capacity FIFO request log. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	records  []*Record
	capacity int
}

// NewBuffer creates a buffer holding at most capacity records. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append stores a record, evicting the oldest if the buffer is full. The
// record's ID and timestamp are filled in if unset.
func (b *Buffer) Append(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) >= b.capacity {
		drop := len(b.records) - b.capacity + 1
		b.records = append(b.records[:0], b.records[drop:]...)
	}
	b.records = append(b.records, rec)
}

// List returns the retained records, oldest first.
func (b *Buffer) List() []*Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Capacity returns the configured maximum.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Clear removes every record.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}
