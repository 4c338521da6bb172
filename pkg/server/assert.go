package server

import (
	"fmt"
	"testing"

	"github.com/alexliesenfeld/httpmock/internal/matching"
)

// Hits returns how many requests a rule has matched.
func (c *Core) Hits(id string) (int64, error) {
	return c.registry.Hits(id)
}

// Explain reports why a rule did not match, scored against the request
// history.
func (c *Core) Explain(id string) (*matching.Report, error) {
	r, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return matching.Explain(r, c.history.List()), nil
}

// VerifyCalled checks that the rule matched exactly times requests. On
// mismatch it returns an error carrying the closest-match report, so test
// failures show what was received instead of what was expected.
func (c *Core) VerifyCalled(id string, times int64) error {
	hits, err := c.registry.Hits(id)
	if err != nil {
		return err
	}
	if hits == times {
		return nil
	}

	rep, err := c.Explain(id)
	if err != nil {
		return fmt.Errorf("expected rule %s to match %d time(s), matched %d", id, times, hits)
	}
	return fmt.Errorf("expected rule %s to match %d time(s), matched %d\n%s", id, times, hits, rep)
}

// AssertCalled fails the test unless the rule matched exactly once.
func (c *Core) AssertCalled(t testing.TB, id string) {
	t.Helper()
	if err := c.VerifyCalled(id, 1); err != nil {
		t.Fatal(err)
	}
}

// AssertCalledTimes fails the test unless the rule matched exactly times.
func (c *Core) AssertCalledTimes(t testing.TB, id string, times int64) {
	t.Helper()
	if err := c.VerifyCalled(id, times); err != nil {
		t.Fatal(err)
	}
}

// AssertNotCalled fails the test if the rule matched any request.
func (c *Core) AssertNotCalled(t testing.TB, id string) {
	t.Helper()
	if err := c.VerifyCalled(id, 0); err != nil {
		t.Fatal(err)
	}
}
