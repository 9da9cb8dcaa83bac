// Package records adds medical records and prescriptions to patients and
// tells interested dashboards about each addition
package records

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/apperr"
	"github.com/swasthsaathi/portal/internal/store"
)

// DateFormat is the layout of the date stamped on each entry
const DateFormat = "2006-01-02"

// Validation messages, as shown to API users
const (
	MessageRecordRequired       = "Patient ID and record are required"
	MessagePrescriptionRequired = "Patient ID and prescription are required"
)

// Publisher delivers an event to the members of a room
type Publisher interface {
	Publish(room, eventType string, data interface{}) (int, error)
}

// Notification is the payload of every event published for a write
type Notification struct {
	PatientID    string      `json:"patientId"`
	Record       store.Entry `json:"record,omitempty"`
	Prescription store.Entry `json:"prescription,omitempty"`
	Timestamp    string      `json:"timestamp"`
}

// Service performs writes against the store and publishes the results
type Service struct {
	Store     store.Store
	Publisher Publisher

	// Now is the service clock, used for entry dates and event timestamps
	Now func() time.Time
}

// New returns a Service using the wall clock
func New(s store.Store, p Publisher) *Service {
	return &Service{
		Store:     s,
		Publisher: p,
		Now:       time.Now,
	}
}

// Patient returns the patient matching an id or username
func (s *Service) Patient(idOrUsername string) (store.Patient, error) {
	if idOrUsername == "" {
		return store.Patient{}, store.ErrPatientNotFound
	}
	return s.Store.Get(idOrUsername)
}

// AddRecord appends a record to a patient and publishes it
func (s *Service) AddRecord(idOrUsername string, body store.Entry) (store.Entry, error) {
	return s.add(idOrUsername, body, store.Record)
}

// AddPrescription appends a prescription to a patient and publishes it
func (s *Service) AddPrescription(idOrUsername string, body store.Entry) (store.Entry, error) {
	return s.add(idOrUsername, body, store.Prescription)
}

func (s *Service) add(idOrUsername string, body store.Entry, kind store.Kind) (store.Entry, error) {

	if idOrUsername == "" || len(body) == 0 {
		if kind == store.Prescription {
			return nil, apperr.Validation(MessagePrescriptionRequired)
		}
		return nil, apperr.Validation(MessageRecordRequired)
	}

	now := s.Now().UTC()

	e := body.Clone()
	e["date"] = now.Format(DateFormat)

	patientID, stored, err := s.Store.Append(idOrUsername, kind, e)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"patient": patientID, "kind": kind.String(), "id": stored.ID()}).Info("added entry")

	s.notify(patientID, kind, stored, now)

	return stored, nil
}

// notify publishes a committed write to the patient's room and to both
// dashboard rooms. Failures are logged because the write has already happened.
func (s *Service) notify(patientID string, kind store.Kind, e store.Entry, now time.Time) {

	if s.Publisher == nil {
		return
	}

	n := Notification{
		PatientID: patientID,
		Timestamp: now.Format(time.RFC3339),
	}

	targeted, broadcast := EventUpdateRecords, EventRecordAdded

	if kind == store.Prescription {
		n.Prescription = e
		targeted, broadcast = EventUpdatePrescriptions, EventPrescriptionAdded
	} else {
		n.Record = e
	}

	s.publish(PatientRoom(patientID), targeted, n)
	s.publish(PatientDashboard, broadcast, n)
	s.publish(PharmacistDashboard, broadcast, n)
}

func (s *Service) publish(room, eventType string, n Notification) {

	count, err := s.Publisher.Publish(room, eventType, n)

	if err != nil {
		log.WithFields(log.Fields{"room": room, "event": eventType, "error": err.Error()}).Error("failed to publish")
		return
	}

	log.WithFields(log.Fields{"room": room, "event": eventType, "delivered": count}).Debug("published")
}
