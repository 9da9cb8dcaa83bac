package crossbar

import (
	"github.com/gorilla/websocket"
	"github.com/swasthsaathi/portal/internal/chanstats"
	"github.com/swasthsaathi/portal/internal/hub"
)

// Config represents configuration options for the realtime endpoints
type Config struct {

	// Hub delivers events to connections
	Hub *hub.Hub

	// RequireToken rejects connections without a valid login token
	RequireToken bool

	// Secret verifies login tokens
	Secret string

	// Audience must match the audience in login tokens
	Audience string
}

// Actions a client can send over the websocket
const (
	ActionJoin             = "join"
	ActionLeave            = "leave"
	ActionJoinPatientRoom  = "joinPatientRoom"
	ActionLeavePatientRoom = "leavePatientRoom"
	ActionJoinRole         = "join-role"
)

// EventError is sent to a client whose command could not be carried out
const EventError = "error"

// Command represents a message from a client
type Command struct {
	Action    string `json:"action"`
	Room      string `json:"room,omitempty"`
	PatientID string `json:"patientId,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Client is a middleperson between the websocket connection and the hub.
type Client struct {
	hub *hub.Hub

	// hub's handle for this client
	hc *hub.Connection

	// The websocket connection.
	conn *websocket.Conn

	// replies that do not come from the hub, e.g. errors
	replies chan hub.Event

	// frames written to the peer, only touched by writePump
	tx *chanstats.Messages

	user string

	userAgent string

	remoteAddr string
}
