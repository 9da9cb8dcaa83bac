package crossbar

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/records"
)

var timeout = time.Second

const (
	audience = "portal-test"
	secret   = "somesecret"
)

func TestMain(m *testing.M) {

	debug := false
	if debug {
		log.SetLevel(log.TraceLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	} else {
		var ignore bytes.Buffer
		logignore := bufio.NewWriter(&ignore)
		log.SetOutput(logignore)
	}

	os.Exit(m.Run())
}

type frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

func setup(t *testing.T, requireToken bool) (*hub.Hub, *httptest.Server) {

	closed := make(chan struct{})

	h := hub.New(hub.Config{})
	go h.Run(closed)

	x := New(closed, Config{
		Hub:          h,
		RequireToken: requireToken,
		Secret:       secret,
		Audience:     audience,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", x.ServeWs)
	mux.HandleFunc("/api/events", x.ServeEvents)

	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		close(closed)
		srv.Close()
	})

	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	require.NoError(t, conn.WriteJSON(cmd))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func token(t *testing.T) string {
	now := time.Now().Unix()
	user := login.User{ID: "D001", Name: "Dr. Mehta", Username: "drmehta", Role: "doctor"}
	s, err := login.Signed(login.NewToken(audience, user, now-1, now+60), secret)
	require.NoError(t, err)
	return s
}

func TestJoinPatientRoomAndReceive(t *testing.T) {

	h, srv := setup(t, false)
	conn := dial(t, srv, "")

	send(t, conn, Command{Action: ActionJoinPatientRoom, PatientID: "ABHA1234"})

	f := read(t, conn)
	assert.Equal(t, hub.EventJoined, f.Event)
	assert.Equal(t, "patient_ABHA1234", f.Room)
	assert.JSONEq(t, `{"room":"patient_ABHA1234"}`, string(f.Data))

	n, err := h.Publish("patient_ABHA1234", records.EventUpdateRecords, records.Notification{
		PatientID: "ABHA1234",
		Record:    map[string]interface{}{"id": "R002", "note": "follow-up", "date": "2025-09-12"},
		Timestamp: "2025-09-12T10:30:00Z",
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	f = read(t, conn)
	assert.Equal(t, records.EventUpdateRecords, f.Event)
	assert.Equal(t, "patient_ABHA1234", f.Room)
	assert.JSONEq(t, `{"patientId":"ABHA1234","record":{"id":"R002","note":"follow-up","date":"2025-09-12"},"timestamp":"2025-09-12T10:30:00Z"}`, string(f.Data))
}

func TestJoinRoleAndLeave(t *testing.T) {

	h, srv := setup(t, false)
	conn := dial(t, srv, "")

	send(t, conn, Command{Action: ActionJoinRole, Role: "pharmacist"})
	f := read(t, conn)
	assert.Equal(t, hub.EventJoined, f.Event)
	assert.Equal(t, records.PharmacistDashboard, f.Room)

	send(t, conn, Command{Action: ActionJoin, Room: "custom"})
	assert.Equal(t, "custom", read(t, conn).Room)

	send(t, conn, Command{Action: ActionLeave, Room: records.PharmacistDashboard})
	f = read(t, conn)
	assert.Equal(t, hub.EventLeft, f.Event)
	assert.Equal(t, records.PharmacistDashboard, f.Room)

	send(t, conn, Command{Action: ActionJoinPatientRoom, PatientID: "ABHA1234"})
	assert.Equal(t, hub.EventJoined, read(t, conn).Event)

	send(t, conn, Command{Action: ActionLeavePatientRoom, PatientID: "ABHA1234"})
	f = read(t, conn)
	assert.Equal(t, hub.EventLeft, f.Event)
	assert.Equal(t, "patient_ABHA1234", f.Room)

	n, err := h.Publish(records.PharmacistDashboard, records.EventPrescriptionAdded, "x")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.Publish("custom", "ping", "y")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ping", read(t, conn).Event)
}

func TestBadCommands(t *testing.T) {

	_, srv := setup(t, false)
	conn := dial(t, srv, "")

	bad := []interface{}{
		Command{Action: "subscribe", Room: "x"},
		Command{Action: ActionJoin},
		Command{Action: ActionJoinPatientRoom},
		Command{Action: ActionJoinRole, Role: "admin"},
	}

	for _, cmd := range bad {
		require.NoError(t, conn.WriteJSON(cmd))
		f := read(t, conn)
		assert.Equal(t, EventError, f.Event)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := read(t, conn)
	assert.Equal(t, EventError, f.Event)
	assert.Contains(t, string(f.Data), "invalid command")

	// still usable afterwards
	send(t, conn, Command{Action: ActionJoin, Room: "ok"})
	assert.Equal(t, hub.EventJoined, read(t, conn).Event)
}

func TestCloseLeavesRooms(t *testing.T) {

	h, srv := setup(t, false)
	conn := dial(t, srv, "")

	send(t, conn, Command{Action: ActionJoin, Room: "r"})
	read(t, conn)

	conn.Close()

	assert.Eventually(t, func() bool {
		rooms, err := h.Rooms()
		return err == nil && len(rooms) == 1 && rooms[0].Members == 0
	}, timeout, 10*time.Millisecond)
}

func TestTokenRequired(t *testing.T) {

	_, srv := setup(t, true)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(u+"?token=garbage", nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, srv, "?token="+token(t))
	send(t, conn, Command{Action: ActionJoin, Room: "r"})
	assert.Equal(t, hub.EventJoined, read(t, conn).Event)

	resp, err = http.Get(srv.URL + "/api/events?room=r")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventStream(t *testing.T) {

	h, srv := setup(t, false)

	resp, err := http.Get(srv.URL + "/api/events?room=patient-dashboard&room=patient_ABHA1234")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)

	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(timeout):
			t.Fatal("timed out waiting for event stream")
		}
		return ""
	}

	// both joins are acknowledged before anything else
	for i := 0; i < 2; i++ {
		assert.Equal(t, "event: joined", next())
		assert.True(t, strings.HasPrefix(next(), "data: "))
		assert.Equal(t, "", next())
	}

	_, err = h.Publish("patient-dashboard", records.EventRecordAdded, map[string]string{"patientId": "ABHA1234"})
	assert.NoError(t, err)

	assert.Equal(t, "event: medicalRecordAdded", next())

	data := strings.TrimPrefix(next(), "data: ")
	var f frame
	require.NoError(t, json.Unmarshal([]byte(data), &f))
	assert.Equal(t, "patient-dashboard", f.Room)
	assert.JSONEq(t, `{"patientId":"ABHA1234"}`, string(f.Data))
}

func TestEventStreamNeedsRoom(t *testing.T) {

	_, srv := setup(t, false)

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
