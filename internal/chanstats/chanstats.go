/*
   chanstats calculates statistics for message streams
   Copyright (C) 2019 Timothy Drysdale <timothy.d.drysdale@gmail.com>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package chanstats

import (
	"time"

	"github.com/eclesh/welford"
)

// Messages represents statistics for a one-way stream of messages
type Messages struct {
	Last  time.Time
	Bytes *welford.Stats
	Dt    *welford.Stats
}

// Details represents a snapshot of Messages fit for reporting
type Details struct {
	Last  string       `json:"last"`
	Bytes WelfordStats `json:"bytes"`
	Dt    WelfordStats `json:"dt"`
}

// WelfordStats represents statistical values
type WelfordStats struct {
	Count    uint64  `json:"count"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Stddev   float64 `json:"stddev"`
	Variance float64 `json:"variance"`
}

// NewMessages returns a pointer to a Messages with statistics initialised
func NewMessages() *Messages {
	return &Messages{Bytes: welford.New(), Dt: welford.New()}
}

// Add records a message of size bytes sent at time t. Gaps longer than
// a day are not counted towards the interval statistic.
func (m *Messages) Add(size int, t time.Time) {

	if !m.Last.IsZero() {
		dt := t.Sub(m.Last)
		if dt >= 0 && dt < 24*time.Hour {
			m.Dt.Add(dt.Seconds())
		}
	}

	m.Last = t
	m.Bytes.Add(float64(size))
}

// NewDetails holds detailed information on message statistics
func NewDetails(m *Messages) *Details {

	last := ""
	if !m.Last.IsZero() {
		last = m.Last.UTC().Format(time.RFC3339)
	}

	d := &Details{
		Last:  last,
		Bytes: *NewWelford(m.Bytes),
		Dt:    *NewWelford(m.Dt),
	}
	return d
}

// NewWelford initialises a new statistics structure
func NewWelford(w *welford.Stats) *WelfordStats {
	r := &WelfordStats{
		Count:    w.Count(),
		Min:      w.Min(),
		Max:      w.Max(),
		Mean:     w.Mean(),
		Stddev:   w.Stddev(),
		Variance: w.Variance(),
	}
	return r

}
