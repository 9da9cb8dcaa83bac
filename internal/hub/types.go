package hub

import (
	"errors"
	"time"

	"github.com/eclesh/welford"
	"github.com/swasthsaathi/portal/internal/chanstats"
)

// Control events the hub queues to a connection after it joins or leaves a room
const (
	EventJoined = "joined"
	EventLeft   = "left"
)

var (
	// ErrClosed is returned for any operation after the hub has stopped
	ErrClosed = errors.New("hub closed")

	// ErrUnknownConnection is returned for a connection that is not registered
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrEmptyRoom is returned when a room name is empty
	ErrEmptyRoom = errors.New("room name is empty")
)

// Hub maintains the set of connections and the rooms they are in, and
// delivers published events to the members of a room. All of its state
// is owned by the goroutine started with Run.
type Hub struct {
	queueSize int
	observer  Observer

	connect     chan connectRequest
	join        chan membershipRequest
	leave       chan membershipRequest
	publish     chan publishRequest
	disconnect  chan disconnectRequest
	rooms       chan chan []RoomReport
	memberships chan membershipsRequest
	stats       chan chan Report
	stopped     chan struct{}

	// owned by Run
	connections map[*Connection]bool
	members     map[string]map[*Connection]bool
	counts      counts
	published   *chanstats.Messages
	audience    *welford.Stats
}

// Config sets up a Hub
type Config struct {

	// QueueSize is the number of events buffered per connection.
	// A connection that falls this far behind is disconnected.
	QueueSize int

	// Observer is told about hub activity, if not nil
	Observer Observer
}

// Observer receives notice of hub activity, e.g. for metrics
type Observer interface {
	Connected()
	Disconnected()
	Published(eventType string, audience, delivered int)
	Dropped(eventType string)
}

// Event is delivered to every member of the room it was published to
type Event struct {
	Type string      `json:"event"`
	Room string      `json:"room"`
	Data interface{} `json:"data"`
	Sent time.Time   `json:"-"`
}

// Connection is a registered participant of the hub. Events published to
// rooms it has joined arrive in order on Events, which is closed on disconnect.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	send  chan Event
	done  chan struct{}
	rooms map[string]bool // owned by Run
}

// Events returns the channel of events queued for the connection
func (c *Connection) Events() <-chan Event {
	return c.send
}

// Done is closed when the connection is disconnected
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// RoomReport represents a room and how many connections are in it
type RoomReport struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Report represents hub statistics that we report externally
type Report struct {
	Connections int                    `json:"connections"`
	Rooms       []RoomReport           `json:"rooms"`
	Publishes   uint64                 `json:"publishes"`
	Deliveries  uint64                 `json:"deliveries"`
	Drops       uint64                 `json:"drops"`
	Audience    chanstats.WelfordStats `json:"audience"`
	Bytes       chanstats.WelfordStats `json:"bytes"`
	Dt          chanstats.WelfordStats `json:"dt"`
	Rate        float64                `json:"rate"`
	Last        string                 `json:"last"`
}

type counts struct {
	publishes  uint64
	deliveries uint64
	drops      uint64
}

type connectRequest struct {
	reply chan *Connection
}

type membershipRequest struct {
	conn  *Connection
	room  string
	reply chan error
}

type publishRequest struct {
	event Event
	reply chan int
}

type disconnectRequest struct {
	conn  *Connection
	reply chan struct{}
}

type membershipsRequest struct {
	conn  *Connection
	reply chan membershipsReply
}

type membershipsReply struct {
	rooms []string
	err   error
}
