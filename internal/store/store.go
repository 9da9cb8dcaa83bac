// Package store provides the in-memory patient store used by the portal
package store

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/apperr"
	"github.com/swasthsaathi/portal/internal/counter"
)

// ErrPatientNotFound is returned when no patient matches an id or username
var ErrPatientNotFound = apperr.NotFound("Patient not found")

// Store represents patient storage. Implementations must be safe for
// concurrent use; Append must assign the id and append atomically.
type Store interface {
	// Get returns a snapshot of the patient matching an id or username
	Get(idOrUsername string) (Patient, error)

	// Append assigns the next display identifier of kind to a copy of e,
	// appends it to the matching patient, and returns the patient's id
	// and the stored entry
	Append(idOrUsername string, kind Kind, e Entry) (string, Entry, error)
}

// Memory is a Store held entirely in memory
type Memory struct {
	mu sync.RWMutex

	byID map[string]*Patient

	byUsername map[string]*Patient

	// ids are global across all patients, not per patient
	sequences map[Kind]*counter.Sequence
}

// NewMemory returns a Memory store holding the given patients. The id
// sequences start after the largest id already present.
func NewMemory(patients []Patient) *Memory {

	m := &Memory{
		byID:       make(map[string]*Patient),
		byUsername: make(map[string]*Patient),
		sequences: map[Kind]*counter.Sequence{
			Record:       counter.NewSequence("R", 3),
			Prescription: counter.NewSequence("PR", 3),
		},
	}

	for i := range patients {
		p := patients[i].snapshot()

		if p.ID == "" {
			log.WithField("username", p.Username).Warn("skipping seeded patient without id")
			continue
		}

		m.byID[p.ID] = &p

		if p.Username != "" {
			m.byUsername[p.Username] = &p
		}

		for _, kind := range []Kind{Record, Prescription} {
			for _, e := range p.Entries(kind) {
				m.sequences[kind].ObserveID(e.ID())
			}
		}
	}

	return m
}

// lookup is for internal use only by functions holding the lock
func (m *Memory) lookup(idOrUsername string) (*Patient, bool) {
	if p, ok := m.byID[idOrUsername]; ok {
		return p, true
	}
	p, ok := m.byUsername[idOrUsername]
	return p, ok
}

// Get returns a snapshot of the patient matching an id or username
func (m *Memory) Get(idOrUsername string) (Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.lookup(idOrUsername)
	if !ok {
		return Patient{}, ErrPatientNotFound
	}
	return p.snapshot(), nil
}

// Append stores a copy of e under the next identifier for kind.
// No identifier is consumed if the patient does not exist.
func (m *Memory) Append(idOrUsername string, kind Kind, e Entry) (string, Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.lookup(idOrUsername)
	if !ok {
		return "", nil, ErrPatientNotFound
	}

	seq, ok := m.sequences[kind]
	if !ok {
		return "", nil, apperr.Internal("unknown entry kind", nil)
	}

	stored := e.Clone()
	stored["id"] = seq.Next()

	switch kind {
	case Prescription:
		p.Prescriptions = append(p.Prescriptions, stored)
	default:
		p.Records = append(p.Records, stored)
	}

	log.WithFields(log.Fields{"patient": p.ID, "kind": kind.String(), "id": stored.ID()}).Trace("appended entry")

	return p.ID, stored.Clone(), nil
}

// Count returns the number of patients held
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
