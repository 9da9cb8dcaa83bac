package chanstats

import (
	"testing"
	"time"

	"github.com/eclesh/welford"
	"github.com/stretchr/testify/assert"
)

func TestMessages(t *testing.T) {

	m := NewMessages()

	t0 := time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)

	m.Add(10, t0)
	m.Add(20, t0.Add(2*time.Second))
	m.Add(30, t0.Add(4*time.Second))

	d := NewDetails(m)

	assert.Equal(t, uint64(3), d.Bytes.Count)
	assert.Equal(t, 20.0, d.Bytes.Mean)
	assert.Equal(t, 30.0, d.Bytes.Max)

	// first message has no predecessor so only two intervals
	assert.Equal(t, uint64(2), d.Dt.Count)
	assert.Equal(t, 2.0, d.Dt.Mean)

	assert.Equal(t, "2025-09-10T08:00:04Z", d.Last)
}

func TestLongGapIgnored(t *testing.T) {

	m := NewMessages()
	t0 := time.Now()

	m.Add(1, t0)
	m.Add(1, t0.Add(25*time.Hour))

	assert.Equal(t, uint64(0), m.Dt.Count())
	assert.Equal(t, uint64(2), m.Bytes.Count())
}

func TestEmptyDetails(t *testing.T) {

	d := NewDetails(NewMessages())
	assert.Equal(t, "", d.Last)
	assert.Equal(t, uint64(0), d.Bytes.Count)

	w := NewWelford(welford.New())
	assert.Equal(t, uint64(0), w.Count)
}
