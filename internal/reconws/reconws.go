/*
   reconws is websocket client that automatically reconnects
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

package reconws

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

// WsMessage represents a websocket message
type WsMessage struct {
	Data []byte
	Type int
}

// ReconWs represents a websocket client that will reconnect if the connection is closed
// connects (retrying/reconnecting if necessary) to websocket server at url
type ReconWs struct {
	ConnectedAt time.Time
	In          chan WsMessage
	Out         chan WsMessage
	Retry       RetryConfig
	ID          string

	// Greeting returns messages to send first on every new connection
	Greeting func() []WsMessage

	// Farewell returns messages to send before closing when the context ends
	Farewell func() []WsMessage

	// OnConnect is called after the greeting has been sent
	OnConnect func()

	// OnDisconnect is called when a connection ends, for any reason
	OnDisconnect func()
}

// RetryConfig represents the parameters for when to retry to connect
type RetryConfig struct {
	Factor  float64
	Jitter  bool
	Min     time.Duration
	Max     time.Duration
	Timeout time.Duration
}

// DefaultRetry reconnects after one second at first, backing off to ten
func DefaultRetry() RetryConfig {
	return RetryConfig{Factor: 2,
		Min:     1 * time.Second,
		Max:     10 * time.Second,
		Timeout: 1 * time.Second,
		Jitter:  false}
}

// New returns a pointer to a new reconnecting websocket client ReconWs
func New() *ReconWs {
	r := &ReconWs{
		// don't initialise connectedAt; set when connected
		In:    make(chan WsMessage),
		Out:   make(chan WsMessage),
		Retry: DefaultRetry(),
		ID:    uuid.New().String()[0:6],
	}
	return r
}

// Reconnect dials url, and dials again with backoff whenever the
// connection fails or closes, until ctx is cancelled
func (r *ReconWs) Reconnect(ctx context.Context, url string) {

	id := "reconws.Reconnect(" + r.ID + ")"

	boff := &backoff.Backoff{
		Min:    r.Retry.Min,
		Max:    r.Retry.Max,
		Factor: r.Retry.Factor,
		Jitter: r.Retry.Jitter,
	}

	// try dialling ....

	for {

		select {
		case <-ctx.Done():
			return
		default:
		}

		err := r.Dial(ctx, url)

		if err == nil {
			boff.Reset()
			log.Tracef("%s: dial finished successfully, resetting timeout to zero", id)
		} else {
			log.WithField("error", err).Tracef("%s: Dial finished with error, increasing timeout", id)
		}

		wait := r.Retry.Min
		if err != nil {
			wait = boff.Duration()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Dial the websocket server once.
// If dial fails then return immediately
// If dial succeeds then handle message traffic until
// the context is cancelled or the connection closes
func (r *ReconWs) Dial(ctx context.Context, urlStr string) error {

	id := "reconws.Dial(" + r.ID + ")"

	var err error

	if urlStr == "" {
		log.Errorf("%s: Can't dial an empty Url", id)
		return errors.New("Can't dial an empty Url")
	}

	// parse to check, dial with original string
	u, err := url.Parse(urlStr)

	if err != nil {
		log.Errorf("%s: error with url because %s:", id, err.Error())
		return err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		log.Errorf("%s: Url needs to start with ws or wss", id)
		return errors.New("Url needs to start with ws or wss")
	}

	if u.User != nil {
		log.Errorf("%s: Url can't contain user name and password", id)
		return errors.New("Url can't contain user name and password")
	}

	// start dialing ....

	log.WithField("To", u.Host).Tracef("%s: connecting", id)

	dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout())
	c, _, err := websocket.DefaultDialer.DialContext(dialCtx, urlStr, nil)
	cancel()

	if err != nil {
		log.WithField("error", err).Debugf("%s: dialing error because %s", id, err.Error())
		return err
	}

	defer c.Close()

	r.ConnectedAt = time.Now()

	if r.OnDisconnect != nil {
		defer r.OnDisconnect()
	}

	if r.Greeting != nil {
		for _, msg := range r.Greeting() {
			if err := c.WriteMessage(msg.Type, msg.Data); err != nil {
				log.WithField("error", err).Infof("%s: error writing greeting; closing", id)
				return nil
			}
		}
	}

	if r.OnConnect != nil {
		r.OnConnect()
	}

	log.WithField("To", u.Host).Tracef("%s: connected", id)

	// handle our reading tasks

	readClosed := make(chan struct{})

	go func() {
		defer close(readClosed)
		for {
			mt, data, err := c.ReadMessage()

			// Check for errors, e.g. caused by writing task closing conn
			// because we've been instructed to exit
			// log as info since we expect an error here on a normal exit
			if err != nil {
				log.WithField("error", err).Debugf("%s: error reading from conn; closing", id)
				return
			}

			select {
			case r.In <- WsMessage{Data: data, Type: mt}:
				log.Tracef("%s: received %d-byte message", id, len(data))
			case <-ctx.Done():
				return
			}
		}
	}()

	// handle our writing tasks
	for {
		select {
		case <-readClosed:
			return nil // nil error resets the backoff

		case msg := <-r.Out:
			if err := c.WriteMessage(msg.Type, msg.Data); err != nil {
				log.WithField("error", err).Infof("%s: error writing to conn; closing", id)
				return nil
			}
			log.Tracef("%s: sent %d-byte message", id, len(msg.Data))

		case <-ctx.Done():
			if r.Farewell != nil {
				for _, msg := range r.Farewell() {
					if err := c.WriteMessage(msg.Type, msg.Data); err != nil {
						break
					}
				}
			}
			// Cleanly close the connection by sending a close message
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithField("error", err).Debugf("%s: error sending close message; closing", id)
			} else {
				log.Debugf("%s: connection closed", id)
			}
			return nil
		}
	}
}

func (r *ReconWs) dialTimeout() time.Duration {
	if r.Retry.Timeout > 0 {
		return r.Retry.Timeout
	}
	return 10 * time.Second
}
