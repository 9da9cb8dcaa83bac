// Package counter provides monotonic sequences for display identifiers
package counter

import (
	"fmt"
	"sync"
)

// Counter represents an integer count that only ever moves forward
type Counter struct {
	mux   sync.Mutex
	count int
}

// New returns pointer to Counter struct starting at zero
func New() *Counter {
	return &Counter{count: 0}
}

// Increment increases count by one and returns the new value
func (c *Counter) Increment() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.count++
	return c.count
}

// Read returns current counter value
func (c *Counter) Read() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.count
}

// Observe raises the count to n if n is larger, so that seeded
// identifiers are never issued again
func (c *Counter) Observe(n int) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if n > c.count {
		c.count = n
	}
}

// Sequence issues display identifiers such as R001 or PR012
type Sequence struct {
	*Counter

	// Prefix is prepended to every identifier
	Prefix string

	// Width is the minimum number of digits, zero padded
	Width int
}

// NewSequence returns a Sequence for the given prefix
func NewSequence(prefix string, width int) *Sequence {
	return &Sequence{
		Counter: New(),
		Prefix:  prefix,
		Width:   width,
	}
}

// Next returns the next identifier in the sequence
func (s *Sequence) Next() string {
	return s.Format(s.Increment())
}

// Format renders n as an identifier of this sequence
func (s *Sequence) Format(n int) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Width, n)
}

// Parse extracts the number from an identifier of this sequence,
// returning false if id does not belong to it
func (s *Sequence) Parse(id string) (int, bool) {

	if len(id) <= len(s.Prefix) || id[:len(s.Prefix)] != s.Prefix {
		return 0, false
	}

	n := 0

	for _, r := range id[len(s.Prefix):] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}

	return n, true
}

// ObserveID raises the sequence past an existing identifier; ids
// from another sequence are ignored
func (s *Sequence) ObserveID(id string) {
	if n, ok := s.Parse(id); ok {
		s.Observe(n)
	}
}
