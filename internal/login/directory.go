// Package login checks credentials against the static user table and
// issues session tokens
package login

import (
	"sync"

	"github.com/swasthsaathi/portal/internal/apperr"
)

// ErrInvalidCredentials is returned for any unknown user, wrong password or wrong role
var ErrInvalidCredentials = apperr.Auth("Invalid credentials")

// Account is a user together with their password
type Account struct {
	User
	Password string
}

// Directory is the static table of accounts
type Directory struct {
	sync.RWMutex
	accounts map[string]Account
}

// NewDirectory returns a Directory holding accounts, keyed by username
func NewDirectory(accounts []Account) *Directory {
	d := &Directory{
		accounts: make(map[string]Account),
	}
	for _, a := range accounts {
		d.accounts[a.Username] = a
	}
	return d
}

// Verify returns the user if username, password and role all match.
// The password is compared as plaintext.
func (d *Directory) Verify(username, password, role string) (User, error) {
	d.RLock()
	defer d.RUnlock()

	a, ok := d.accounts[username]

	if !ok || a.Password != password || a.Role != role {
		return User{}, ErrInvalidCredentials
	}

	return a.User, nil
}

// Count returns the number of accounts
func (d *Directory) Count() int {
	d.RLock()
	defer d.RUnlock()
	return len(d.accounts)
}
