package crossbar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/records"
)

// handle carries out one command from the client, returning false if the
// client can no longer be served
func (c *Client) handle(data []byte) bool {

	var cmd Command

	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply(fmt.Sprintf("invalid command: %s", err.Error()))
		return true
	}

	room, join, err := route(cmd)

	if err != nil {
		c.reply(err.Error())
		return true
	}

	if join {
		err = c.hub.Join(c.hc, room)
	} else {
		err = c.hub.Leave(c.hc, room)
	}

	switch {
	case err == nil:
		log.WithFields(log.Fields{"connection": c.hc.ID, "action": cmd.Action, "room": room}).Debug("handled command")
		return true
	case errors.Is(err, hub.ErrUnknownConnection), errors.Is(err, hub.ErrClosed):
		// hub has already let go of this client
		log.WithFields(log.Fields{"connection": c.hc.ID, "error": err.Error()}).Debug("client no longer in hub")
		return false
	default:
		c.reply(err.Error())
		return true
	}
}

// route returns the room a command refers to, and whether to join it
func route(cmd Command) (string, bool, error) {

	switch cmd.Action {

	case ActionJoin, ActionLeave:
		if cmd.Room == "" {
			return "", false, errors.New("room is required")
		}
		return cmd.Room, cmd.Action == ActionJoin, nil

	case ActionJoinPatientRoom, ActionLeavePatientRoom:
		if cmd.PatientID == "" {
			return "", false, errors.New("patientId is required")
		}
		return records.PatientRoom(cmd.PatientID), cmd.Action == ActionJoinPatientRoom, nil

	case ActionJoinRole:
		if !login.ValidRole(cmd.Role) {
			return "", false, fmt.Errorf("unknown role: %q", cmd.Role)
		}
		return records.RoleRoom(cmd.Role), true, nil
	}

	return "", false, fmt.Errorf("unknown action: %q", cmd.Action)
}

// reply queues an error frame for the client, dropping it if the client
// is not keeping up
func (c *Client) reply(message string) {

	e := hub.Event{
		Type: EventError,
		Data: map[string]string{"message": message},
	}

	select {
	case c.replies <- e:
	default:
		log.WithField("connection", c.hc.ID).Warn("dropping error reply to slow client")
	}
}

func encode(w io.Writer, e hub.Event) error {
	return json.NewEncoder(w).Encode(e)
}

type countingWriter struct {
	w io.Writer
	n int
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += n
	return n, err
}
