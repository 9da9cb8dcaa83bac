// Package seed loads the demo users and patients the portal starts with
package seed

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSeed []byte

// User is one entry of the seed file. Patient users also carry
// demographics and their clinical history.
type User struct {
	ID            string                   `yaml:"id"`
	Username      string                   `yaml:"username"`
	Password      string                   `yaml:"password"`
	Name          string                   `yaml:"name"`
	Role          string                   `yaml:"role"`
	DOB           string                   `yaml:"dob"`
	Gender        string                   `yaml:"gender"`
	Records       []map[string]interface{} `yaml:"records"`
	Prescriptions []map[string]interface{} `yaml:"prescriptions"`
}

// Seed represents the contents of a seed file
type Seed struct {
	Users []User `yaml:"users"`
}

// Default returns the embedded demo seed
func Default() (*Seed, error) {
	return Parse(defaultSeed)
}

// Load reads a seed file, or the embedded seed if path is empty
func Load(path string) (*Seed, error) {

	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and checks a seed document
func Parse(data []byte) (*Seed, error) {

	s := &Seed{}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}

	ids := make(map[string]bool)
	usernames := make(map[string]bool)

	// patients are looked up by id or username, so the two share one namespace
	owners := make(map[string]string)

	for i, u := range s.Users {
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("seed user %d: id and username are required", i)
		}
		if !login.ValidRole(u.Role) {
			return nil, fmt.Errorf("seed user %s: unknown role %q", u.ID, u.Role)
		}
		if ids[u.ID] {
			return nil, fmt.Errorf("seed user %s: duplicate id", u.ID)
		}
		if usernames[u.Username] {
			return nil, fmt.Errorf("seed user %s: duplicate username %s", u.ID, u.Username)
		}
		for _, name := range []string{u.ID, u.Username} {
			if owner, ok := owners[name]; ok && owner != u.ID {
				return nil, fmt.Errorf("seed user %s: %s is already the id or username of %s", u.ID, name, owner)
			}
		}
		ids[u.ID] = true
		usernames[u.Username] = true
		owners[u.ID] = u.ID
		owners[u.Username] = u.ID
	}

	return s, nil
}

// Accounts returns every user as a login account
func (s *Seed) Accounts() []login.Account {

	accounts := []login.Account{}

	for _, u := range s.Users {
		accounts = append(accounts, login.Account{
			User: login.User{
				ID:       u.ID,
				Name:     u.Name,
				Username: u.Username,
				Role:     u.Role,
			},
			Password: u.Password,
		})
	}

	return accounts
}

// Patients returns the users with the patient role, ready for the store
func (s *Seed) Patients() []store.Patient {

	patients := []store.Patient{}

	for _, u := range s.Users {

		if u.Role != login.RolePatient {
			continue
		}

		p := store.Patient{
			ID:            u.ID,
			Name:          u.Name,
			Username:      u.Username,
			DOB:           u.DOB,
			Gender:        u.Gender,
			Records:       []store.Entry{},
			Prescriptions: []store.Entry{},
		}

		for _, r := range u.Records {
			p.Records = append(p.Records, store.Entry(r))
		}

		for _, r := range u.Prescriptions {
			p.Prescriptions = append(p.Prescriptions, store.Entry(r))
		}

		patients = append(patients, p)
	}

	return patients
}
