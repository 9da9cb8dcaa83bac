package store

import (
	"github.com/jinzhu/copier"
)

// Kind selects which list of a patient an entry belongs to
type Kind int

// Record and Prescription are the two kinds of entry a patient holds
const (
	Record Kind = iota
	Prescription
)

// String returns the name used in logs and payloads
func (k Kind) String() string {
	switch k {
	case Record:
		return "record"
	case Prescription:
		return "prescription"
	default:
		return "unknown"
	}
}

// Entry is a medical record or prescription. Clinical fields are free-form;
// id and date are always set by the server.
type Entry map[string]interface{}

// ID returns the display identifier, e.g. R002
func (e Entry) ID() string {
	s, _ := e["id"].(string)
	return s
}

// Date returns the date the entry was made, YYYY-MM-DD
func (e Entry) Date() string {
	s, _ := e["date"].(string)
	return s
}

// Clone returns a shallow copy so the caller's map is never stored
func (e Entry) Clone() Entry {
	c := make(Entry, len(e)+2)
	for k, v := range e {
		c[k] = v
	}
	return c
}

// Patient represents a patient and their clinical history
type Patient struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Username      string  `json:"username" yaml:"username"`
	DOB           string  `json:"dob,omitempty" yaml:"dob"`
	Gender        string  `json:"gender,omitempty" yaml:"gender"`
	Records       []Entry `json:"records" yaml:"records"`
	Prescriptions []Entry `json:"prescriptions" yaml:"prescriptions"`
}

// Profile is the demographic part of a patient
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	DOB      string `json:"dob"`
	Gender   string `json:"gender"`
}

// Profile projects the patient onto its demographic fields
func (p Patient) Profile() Profile {
	var pr Profile
	// same-named fields only; cannot fail for these two struct types
	_ = copier.Copy(&pr, &p)
	return pr
}

// Entries returns the list for kind
func (p Patient) Entries(kind Kind) []Entry {
	if kind == Prescription {
		return p.Prescriptions
	}
	return p.Records
}

// snapshot copies the slices so callers cannot observe later appends
func (p *Patient) snapshot() Patient {
	s := *p
	s.Records = append(make([]Entry, 0, len(p.Records)), p.Records...)
	s.Prescriptions = append(make([]Entry, 0, len(p.Prescriptions)), p.Prescriptions...)
	return s
}
