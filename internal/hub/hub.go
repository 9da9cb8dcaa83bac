package hub

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/eclesh/welford"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/chanstats"
)

// DefaultQueueSize is used when Config.QueueSize is not positive
const DefaultQueueSize = 256

// New returns a pointer to an initialised Hub, which must be started with Run
func New(config Config) *Hub {

	size := config.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Hub{
		queueSize:   size,
		observer:    config.Observer,
		connect:     make(chan connectRequest),
		join:        make(chan membershipRequest),
		leave:       make(chan membershipRequest),
		publish:     make(chan publishRequest),
		disconnect:  make(chan disconnectRequest),
		rooms:       make(chan chan []RoomReport),
		memberships: make(chan membershipsRequest),
		stats:       make(chan chan Report),
		stopped:     make(chan struct{}),
		connections: make(map[*Connection]bool),
		members:     make(map[string]map[*Connection]bool),
		published:   chanstats.NewMessages(),
		audience:    welford.New(),
	}
}

// Run processes hub operations one at a time until closed is closed,
// then disconnects every remaining connection.
func (h *Hub) Run(closed <-chan struct{}) {

	defer func() {
		for c := range h.connections {
			h.remove(c)
		}
		close(h.stopped)
		log.Trace("hub stopped")
	}()

	for {
		select {
		case <-closed:
			return

		case req := <-h.connect:
			c := &Connection{
				ID:          uuid.New().String(),
				ConnectedAt: time.Now(),
				send:        make(chan Event, h.queueSize),
				done:        make(chan struct{}),
				rooms:       make(map[string]bool),
			}
			h.connections[c] = true
			if h.observer != nil {
				h.observer.Connected()
			}
			log.WithField("connection", c.ID).Trace("hub registered connection")
			req.reply <- c

		case req := <-h.join:
			if !h.connections[req.conn] {
				req.reply <- ErrUnknownConnection
				continue
			}
			if req.conn.rooms[req.room] {
				req.reply <- nil
				continue
			}
			if _, ok := h.members[req.room]; !ok {
				h.members[req.room] = make(map[*Connection]bool)
			}
			h.members[req.room][req.conn] = true
			req.conn.rooms[req.room] = true
			h.ack(req.conn, EventJoined, req.room)
			req.reply <- nil

		case req := <-h.leave:
			if !h.connections[req.conn] {
				req.reply <- ErrUnknownConnection
				continue
			}
			if !req.conn.rooms[req.room] {
				req.reply <- nil
				continue
			}
			delete(h.members[req.room], req.conn)
			delete(req.conn.rooms, req.room)
			h.ack(req.conn, EventLeft, req.room)
			req.reply <- nil

		case req := <-h.publish:
			req.reply <- h.deliver(req.event)

		case req := <-h.disconnect:
			if h.connections[req.conn] {
				h.remove(req.conn)
			}
			req.reply <- struct{}{}

		case reply := <-h.rooms:
			reply <- h.roomReports()

		case req := <-h.memberships:
			if !h.connections[req.conn] {
				req.reply <- membershipsReply{err: ErrUnknownConnection}
				continue
			}
			rooms := []string{}
			for room := range req.conn.rooms {
				rooms = append(rooms, room)
			}
			sort.Strings(rooms)
			req.reply <- membershipsReply{rooms: rooms}

		case reply := <-h.stats:
			reply <- h.report()
		}
	}
}

// deliver queues the event to each current member of its room, disconnecting
// any member whose queue is full, and returns how many members it reached
func (h *Hub) deliver(e Event) int {

	room := h.members[e.Room]
	audience := len(room)
	delivered := 0

	for c := range room {
		select {
		case c.send <- e:
			delivered++
		default:
			log.WithFields(log.Fields{"connection": c.ID, "room": e.Room, "event": e.Type}).Warn("disconnecting unresponsive connection")
			h.counts.drops++
			if h.observer != nil {
				h.observer.Dropped(e.Type)
			}
			h.remove(c)
		}
	}

	size := 0
	if b, err := json.Marshal(e.Data); err == nil {
		size = len(b)
	}

	h.counts.publishes++
	h.counts.deliveries += uint64(delivered)
	h.published.Add(size, e.Sent)
	h.audience.Add(float64(audience))

	if h.observer != nil {
		h.observer.Published(e.Type, audience, delivered)
	}

	log.WithFields(log.Fields{"room": e.Room, "event": e.Type, "audience": audience, "delivered": delivered}).Debug("hub published event")

	return delivered
}

// ack queues a control event to a single connection
func (h *Hub) ack(c *Connection, eventType, room string) {

	e := Event{
		Type: eventType,
		Room: room,
		Data: map[string]string{"room": room},
		Sent: time.Now(),
	}

	select {
	case c.send <- e:
	default:
		log.WithFields(log.Fields{"connection": c.ID, "room": room}).Warn("disconnecting unresponsive connection")
		h.counts.drops++
		if h.observer != nil {
			h.observer.Dropped(eventType)
		}
		h.remove(c)
	}
}

// remove clears a connection from every room and closes its channels
func (h *Hub) remove(c *Connection) {

	for room := range c.rooms {
		delete(h.members[room], c)
	}
	c.rooms = make(map[string]bool)

	delete(h.connections, c)
	close(c.send)
	close(c.done)

	if h.observer != nil {
		h.observer.Disconnected()
	}

	log.WithField("connection", c.ID).Trace("hub removed connection")
}

func (h *Hub) roomReports() []RoomReport {

	reports := []RoomReport{}

	for name, members := range h.members {
		reports = append(reports, RoomReport{Name: name, Members: len(members)})
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })

	return reports
}

// Connect registers a new connection with no rooms
func (h *Hub) Connect() (*Connection, error) {

	reply := make(chan *Connection, 1)

	select {
	case h.connect <- connectRequest{reply: reply}:
	case <-h.stopped:
		return nil, ErrClosed
	}

	return <-reply, nil
}

// Join adds the connection to a room, creating the room if needed.
// Joining a room twice has no further effect, and is not acknowledged again.
func (h *Hub) Join(c *Connection, room string) error {
	return h.membership(h.join, c, room)
}

// Leave removes the connection from a room. Leaving a room that was not
// joined has no effect, and is not acknowledged.
func (h *Hub) Leave(c *Connection, room string) error {
	return h.membership(h.leave, c, room)
}

func (h *Hub) membership(ch chan membershipRequest, c *Connection, room string) error {

	if room == "" {
		return ErrEmptyRoom
	}

	reply := make(chan error, 1)

	select {
	case ch <- membershipRequest{conn: c, room: room, reply: reply}:
	case <-h.stopped:
		return ErrClosed
	}

	return <-reply
}

// Publish delivers an event to the connections that are in the room now,
// returning how many it was queued for. Later joiners never see it.
func (h *Hub) Publish(room, eventType string, data interface{}) (int, error) {

	if room == "" {
		return 0, ErrEmptyRoom
	}

	reply := make(chan int, 1)

	e := Event{
		Type: eventType,
		Room: room,
		Data: data,
		Sent: time.Now(),
	}

	select {
	case h.publish <- publishRequest{event: e, reply: reply}:
	case <-h.stopped:
		return 0, ErrClosed
	}

	return <-reply, nil
}

// Disconnect removes the connection from all rooms and closes it.
// It is safe to call more than once.
func (h *Hub) Disconnect(c *Connection) {

	reply := make(chan struct{}, 1)

	select {
	case h.disconnect <- disconnectRequest{conn: c, reply: reply}:
		<-reply
	case <-h.stopped:
	}
}

// Rooms lists every room with its member count, including empty rooms
func (h *Hub) Rooms() ([]RoomReport, error) {

	reply := make(chan []RoomReport, 1)

	select {
	case h.rooms <- reply:
	case <-h.stopped:
		return nil, ErrClosed
	}

	return <-reply, nil
}

// Memberships lists the rooms a connection is in
func (h *Hub) Memberships(c *Connection) ([]string, error) {

	reply := make(chan membershipsReply, 1)

	select {
	case h.memberships <- membershipsRequest{conn: c, reply: reply}:
	case <-h.stopped:
		return nil, ErrClosed
	}

	r := <-reply

	return r.rooms, r.err
}

// Stats returns a report on hub activity
func (h *Hub) Stats() (Report, error) {

	reply := make(chan Report, 1)

	select {
	case h.stats <- reply:
	case <-h.stopped:
		return Report{}, ErrClosed
	}

	return <-reply, nil
}
