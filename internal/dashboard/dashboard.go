// Package dashboard is a headless dashboard: it loads a patient's view,
// subscribes to the rooms its role cares about, and keeps the view up to
// date as events arrive, reconnecting when the connection drops
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/reconws"
	"github.com/swasthsaathi/portal/internal/records"
	"github.com/swasthsaathi/portal/internal/store"
)

// ErrPatientNotFound is returned by Run when the server has no such patient
var ErrPatientNotFound = errors.New("patient not found")

// Config represents configuration options for a Manager
type Config struct {

	// Server is the http(s) base URL of the portal, e.g. http://localhost:4000
	Server string

	// Role is doctor, patient or pharmacist
	Role string

	// PatientID is the patient's own id, or the patient a doctor or
	// pharmacist has selected
	PatientID string

	// Token is passed to the realtime endpoint, if not empty
	Token string

	// Retry controls reconnection
	Retry reconws.RetryConfig

	// Client is used to load the initial view; http.DefaultClient if nil
	Client *http.Client
}

// Event represents a frame received from the server
type Event struct {
	Type string          `json:"event"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

// Notification decodes the payload of a records event
func (e Event) Notification() (records.Notification, error) {
	var n records.Notification
	err := json.Unmarshal(e.Data, &n)
	return n, err
}

// View is what the dashboard shows for the displayed patient
type View struct {
	Profile       store.Profile `json:"profile"`
	Records       []store.Entry `json:"records"`
	Prescriptions []store.Entry `json:"prescriptions"`
}

// Manager keeps a dashboard subscribed and its view current
type Manager struct {
	config Config
	plan   Plan
	ws     *reconws.ReconWs

	mu           sync.Mutex
	patientID    string
	state        State
	hooks        []func(from, to State)
	listeners    map[string]map[int]func(Event)
	nextListener int
	own          []func()
	joined       map[string]bool
	view         View
}

// New returns a Manager, which does nothing until Run
func New(config Config) *Manager {

	if config.Retry == (reconws.RetryConfig{}) {
		config.Retry = reconws.DefaultRetry()
	}

	if config.Client == nil {
		config.Client = http.DefaultClient
	}

	ws := reconws.New()
	ws.Retry = config.Retry

	return &Manager{
		config:    config,
		patientID: config.PatientID,
		plan:      PlanFor(config.Role, config.PatientID),
		ws:        ws,
		state:     Disconnected,
		listeners: make(map[string]map[int]func(Event)),
		joined:    make(map[string]bool),
	}
}

// Plan returns the rooms and events the manager subscribes to. Until Run
// has loaded the patient, rooms are named after Config.PatientID.
func (m *Manager) Plan() Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plan
}

// PatientID returns the id of the displayed patient, which is the profile
// id once loaded even if the manager was configured with a username
func (m *Manager) PatientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patientID
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnState registers fn to be called on every state change
func (m *Manager) OnState(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// On registers fn for events of eventType, and returns the function that
// removes it. Calling the returned function more than once is harmless.
func (m *Manager) On(eventType string, fn func(Event)) (off func()) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listeners[eventType]; !ok {
		m.listeners[eventType] = make(map[int]func(Event))
	}

	id := m.nextListener
	m.nextListener++
	m.listeners[eventType][id] = fn

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners[eventType], id)
		})
	}
}

// Listeners returns how many listeners are registered for eventType
func (m *Manager) Listeners(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[eventType])
}

// Joined returns the rooms the server has confirmed on the current connection
func (m *Manager) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := []string{}
	for room := range m.joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// View returns a copy of the current view
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		Profile:       m.view.Profile,
		Records:       append([]store.Entry{}, m.view.Records...),
		Prescriptions: append([]store.Entry{}, m.view.Prescriptions...),
	}
}

// Run loads the view, then connects and stays subscribed until ctx is
// cancelled, when it leaves its rooms and disconnects
func (m *Manager) Run(ctx context.Context) error {

	if !login.ValidRole(m.config.Role) {
		return fmt.Errorf("unknown role %q", m.config.Role)
	}

	wsURL, err := m.wsURL()
	if err != nil {
		return err
	}

	m.setState(Connecting)

	if m.config.PatientID != "" {
		if err := m.load(ctx); err != nil {
			m.setState(Disconnected)
			return err
		}
	}

	connects := 0

	m.ws.Greeting = m.greet
	m.ws.Farewell = func() []reconws.WsMessage { return m.Plan().leaves() }
	m.ws.OnConnect = func() {
		connects++
		// rooms are joined already, so a write missed while disconnected
		// is either in the reloaded view or on its way as an event
		if connects > 1 && m.PatientID() != "" {
			if err := m.load(ctx); err != nil {
				log.WithField("error", err.Error()).Warn("dashboard could not reload view")
			}
		}
		m.setState(Connected)
		if len(m.Plan().Rooms) == 0 {
			m.setState(Subscribed)
		}
	}
	m.ws.OnDisconnect = func() { m.disconnected(ctx) }

	done := make(chan struct{})

	go func() {
		m.ws.Reconnect(ctx, wsURL)
		close(done)
	}()

	for {
		select {
		case msg := <-m.ws.In:
			m.handle(msg.Data)
		case <-done:
			m.setState(Disconnected)
			return nil
		}
	}
}

// greet starts a new connection: fresh listeners, nothing joined yet
func (m *Manager) greet() []reconws.WsMessage {

	m.mu.Lock()
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	plan := m.Plan()

	offs := []func(){}
	for _, eventType := range plan.Events {
		offs = append(offs, m.On(eventType, m.merge))
	}

	m.mu.Lock()
	m.own = offs
	m.mu.Unlock()

	return plan.joins()
}

func (m *Manager) disconnected(ctx context.Context) {

	m.mu.Lock()
	offs := m.own
	m.own = nil
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	for _, off := range offs {
		off()
	}

	if ctx.Err() == nil {
		m.setState(Connecting)
	}
}

func (m *Manager) handle(data []byte) {

	var e Event

	if err := json.Unmarshal(data, &e); err != nil {
		log.WithField("error", err.Error()).Warn("dashboard ignoring malformed frame")
		return
	}

	switch e.Type {

	case hub.EventJoined:
		m.mu.Lock()
		m.joined[e.Room] = true
		all := true
		for _, room := range m.plan.Rooms {
			if !m.joined[room] {
				all = false
			}
		}
		m.mu.Unlock()
		if all && m.State() == Connected {
			m.setState(Subscribed)
		}
		return

	case hub.EventLeft:
		return

	case "error":
		log.WithField("data", string(e.Data)).Warn("dashboard command rejected")
		return
	}

	m.mu.Lock()
	fns := []func(Event){}
	ids := []int{}
	for id := range m.listeners[e.Type] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, m.listeners[e.Type][id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// merge prepends the entry carried by e to the view, once, if it is for
// the displayed patient
func (m *Manager) merge(e Event) {

	n, err := e.Notification()

	if err != nil {
		log.WithFields(log.Fields{"error": err.Error(), "event": e.Type}).Warn("dashboard ignoring malformed notification")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.patientID == "" || n.PatientID != m.patientID {
		log.WithFields(log.Fields{"event": e.Type, "patient": n.PatientID}).Trace("dashboard ignoring other patient")
		return
	}

	if n.Record != nil {
		m.view.Records = prepend(m.view.Records, n.Record)
	}

	if n.Prescription != nil {
		m.view.Prescriptions = prepend(m.view.Prescriptions, n.Prescription)
	}
}

func prepend(entries []store.Entry, e store.Entry) []store.Entry {
	for _, existing := range entries {
		if existing.ID() == e.ID() {
			return entries
		}
	}
	return append([]store.Entry{e}, entries...)
}

func (m *Manager) setState(to State) {

	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	hooks := append([]func(from, to State){}, m.hooks...)
	m.mu.Unlock()

	log.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Debug("dashboard state")

	for _, fn := range hooks {
		fn(from, to)
	}
}

// load fetches the displayed patient. The first load resolves a username
// to the profile id, which then names the patient room and filters events.
// Later loads keep any entry already merged that the response lacks, since
// entries are never removed.
func (m *Manager) load(ctx context.Context) error {

	u := strings.TrimSuffix(m.config.Server, "/") + "/api/patient/" + url.PathEscape(m.PatientID())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := m.config.Client.Do(req)
	if err != nil {
		return fmt.Errorf("loading patient %s: %w", m.config.PatientID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrPatientNotFound
	default:
		return fmt.Errorf("loading patient %s: status %d", m.config.PatientID, resp.StatusCode)
	}

	var v View

	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decoding patient %s: %w", m.config.PatientID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v.Profile.ID != "" && v.Profile.ID != m.patientID {
		m.patientID = v.Profile.ID
		m.plan = PlanFor(m.config.Role, m.patientID)
	}

	if m.view.Profile.ID == v.Profile.ID {
		v.Records = union(v.Records, m.view.Records)
		v.Prescriptions = union(v.Prescriptions, m.view.Prescriptions)
	}

	m.view = v

	return nil
}

// union prepends to loaded the entries of current it does not contain
func union(loaded, current []store.Entry) []store.Entry {
	for i := len(current) - 1; i >= 0; i-- {
		loaded = prepend(loaded, current[i])
	}
	return loaded
}

func (m *Manager) wsURL() (string, error) {

	u, err := url.Parse(m.config.Server)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url needs to start with http or https, not %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	if m.config.Token != "" {
		q := u.Query()
		q.Set("token", m.config.Token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
