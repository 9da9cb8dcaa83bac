package hub

import (
	"github.com/swasthsaathi/portal/internal/chanstats"
)

// MpsFromNs returns frequency of event occurring every ns nanoseconds
func MpsFromNs(ns float64) float64 {
	return 1 / (ns * 1e-9)
}

func (h *Hub) report() Report {

	details := chanstats.NewDetails(h.published)

	rate := 0.0
	if details.Dt.Mean > 0 {
		rate = MpsFromNs(details.Dt.Mean * 1e9)
	}

	return Report{
		Connections: len(h.connections),
		Rooms:       h.roomReports(),
		Publishes:   h.counts.publishes,
		Deliveries:  h.counts.deliveries,
		Drops:       h.counts.drops,
		Audience:    *chanstats.NewWelford(h.audience),
		Bytes:       details.Bytes,
		Dt:          details.Dt,
		Rate:        rate,
		Last:        details.Last,
	}
}
