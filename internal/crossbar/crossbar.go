// Package crossbar connects websocket and event-stream clients to the hub
package crossbar

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/login"
)

// Crossbar serves the realtime endpoints
type Crossbar struct {
	config Config
	closed <-chan struct{}
}

// New returns a Crossbar that stops serving clients when closed is closed
func New(closed <-chan struct{}, config Config) *Crossbar {
	return &Crossbar{
		config: config,
		closed: closed,
	}
}

// authorise returns the username from the request's token, or an error if
// a token is required and missing or invalid
func (x *Crossbar) authorise(r *http.Request) (string, error) {

	signed := r.URL.Query().Get("token")

	if signed == "" {
		signed = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if signed == "" {
		if x.config.RequireToken {
			return "", errMissingToken
		}
		return "", nil
	}

	token, err := login.Parse(signed, x.config.Secret, x.config.Audience)

	if err != nil {
		if x.config.RequireToken {
			return "", err
		}
		log.WithField("error", err.Error()).Debug("ignoring invalid token")
		return "", nil
	}

	return token.Username, nil
}
