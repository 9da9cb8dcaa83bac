package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swasthsaathi/portal/internal/api"
	"github.com/swasthsaathi/portal/internal/crossbar"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/reconws"
	"github.com/swasthsaathi/portal/internal/records"
	"github.com/swasthsaathi/portal/internal/seed"
	"github.com/swasthsaathi/portal/internal/store"
)

const testSeed = `users:
  - id: D001
    username: drmehta
    password: docpass123
    name: Dr. Mehta
    role: doctor
  - id: PH001
    username: pharma1
    password: pharmapass
    name: Pharma One
    role: pharmacist
  - id: ABHA1234
    username: vishwakarma_4294@sbx
    password: saurabh4294!
    name: Saurabh Vishwakarma
    role: patient
    records:
      - id: R001
        note: Initial checkup - healthy
        date: "2025-09-10"
  - id: PAT002
    username: bob
    password: bobpass
    name: Bob Smith
    role: patient
    records:
      - id: R010
        note: Flu
        date: "2025-08-01"
`

var timeout = 2 * time.Second

func TestMain(m *testing.M) {

	debug := false
	if debug {
		log.SetLevel(log.TraceLevel)
	} else {
		var ignore bytes.Buffer
		logignore := bufio.NewWriter(&ignore)
		log.SetOutput(logignore)
	}

	os.Exit(m.Run())
}

type stack struct {
	srv    *httptest.Server
	hub    *hub.Hub
	closed chan struct{}
}

func (s *stack) stop() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.srv.Close()
}

func testStore(t *testing.T) *store.Memory {
	sd, err := seed.Parse([]byte(testSeed))
	require.NoError(t, err)
	return store.NewMemory(sd.Patients())
}

// start runs a portal on addr, so that a restarted stack can reuse the address
func start(t *testing.T, addr string) *stack {
	return startWith(t, addr, testStore(t))
}

// startWith runs a portal backed by st, which outlives the stack
func startWith(t *testing.T, addr string, st store.Store) *stack {

	sd, err := seed.Parse([]byte(testSeed))
	require.NoError(t, err)

	closed := make(chan struct{})

	h := hub.New(hub.Config{})
	go h.Run(closed)

	handler := api.New(api.Config{
		Service:   records.New(st, h),
		Directory: login.NewDirectory(sd.Accounts()),
		Hub:       h,
		Crossbar:  crossbar.New(closed, crossbar.Config{Hub: h}),
		Secret:    "testsecret",
		Audience:  "test",
	})

	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()

	s := &stack{srv: srv, hub: h, closed: closed}
	t.Cleanup(s.stop)

	return s
}

func freeAddr(t *testing.T) string {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	return "127.0.0.1:" + strconv.Itoa(port)
}

func post(t *testing.T, s *stack, path, body string) {
	resp, err := http.Post(s.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func fastRetry() reconws.RetryConfig {
	return reconws.RetryConfig{Factor: 2, Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Timeout: time.Second}
}

func run(t *testing.T, m *Manager) (context.CancelFunc, chan error) {

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)

	go func() {
		errs <- m.Run(ctx)
	}()

	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return m.State() == Subscribed }, timeout, 5*time.Millisecond)

	return cancel, errs
}

func TestPlanFor(t *testing.T) {

	p := PlanFor("patient", "ABHA1234")
	assert.Equal(t, []string{"patient_ABHA1234", "patient-dashboard"}, p.Rooms)
	assert.ElementsMatch(t, []string{"update-records", "update-prescriptions", "medicalRecordAdded", "prescriptionAdded"}, p.Events)

	p = PlanFor("pharmacist", "")
	assert.Equal(t, []string{"pharmacist-dashboard"}, p.Rooms)
	assert.ElementsMatch(t, []string{"update-prescriptions", "prescriptionAdded", "medicalRecordAdded"}, p.Events)

	p = PlanFor("pharmacist", "ABHA1234")
	assert.Equal(t, []string{"pharmacist-dashboard", "patient_ABHA1234"}, p.Rooms)

	p = PlanFor("doctor", "ABHA1234")
	assert.Equal(t, []string{"patient_ABHA1234"}, p.Rooms)
	assert.ElementsMatch(t, []string{"update-records", "update-prescriptions"}, p.Events)

	assert.Empty(t, PlanFor("admin", "x").Rooms)
}

func TestCommands(t *testing.T) {

	p := PlanFor("patient", "ABHA1234")

	var got []string
	for _, msg := range p.joins() {
		got = append(got, string(msg.Data))
	}
	assert.Equal(t, []string{
		`{"action":"joinPatientRoom","patientId":"ABHA1234"}`,
		`{"action":"join","room":"patient-dashboard"}`,
	}, got)

	got = nil
	for _, msg := range p.leaves() {
		got = append(got, string(msg.Data))
	}
	assert.Equal(t, []string{
		`{"action":"leavePatientRoom","patientId":"ABHA1234"}`,
		`{"action":"leave","room":"patient-dashboard"}`,
	}, got)
}

func TestPatientDashboard(t *testing.T) {

	s := start(t, "127.0.0.1:0")

	m := New(Config{Server: s.srv.URL, Role: "patient", PatientID: "ABHA1234", Retry: fastRetry()})

	var mu sync.Mutex
	seen := []string{}
	off := m.On("update-records", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})
	defer off()

	cancel, errs := run(t, m)

	assert.Equal(t, []string{"patient-dashboard", "patient_ABHA1234"}, m.Joined())

	v := m.View()
	assert.Equal(t, "Saurabh Vishwakarma", v.Profile.Name)
	require.Len(t, v.Records, 1)

	post(t, s, "/api/add-record", `{"patientId":"ABHA1234","record":{"note":"follow-up"}}`)

	// arrives through both rooms, shown once, newest first
	require.Eventually(t, func() bool { return len(m.View().Records) == 2 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "R002", m.View().Records[0].ID())
	assert.Equal(t, "R001", m.View().Records[1].ID())

	post(t, s, "/api/add-prescription", `{"patientId":"vishwakarma_4294@sbx","prescription":{"medicines":[]}}`)
	require.Eventually(t, func() bool { return len(m.View().Prescriptions) == 1 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "PR001", m.View().Prescriptions[0].ID())

	// another patient's write is not shown
	post(t, s, "/api/add-record", `{"patientId":"PAT002","record":{"note":"other"}}`)
	post(t, s, "/api/add-record", `{"patientId":"ABHA1234","record":{"note":"last"}}`)
	require.Eventually(t, func() bool { return len(m.View().Records) == 3 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "R004", m.View().Records[0].ID())

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, m.View().Records, 3)

	mu.Lock()
	assert.Equal(t, 2, len(seen))
	mu.Unlock()

	// teardown
	assert.Equal(t, 1, m.Listeners("medicalRecordAdded"))
	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 0, m.Listeners("medicalRecordAdded"))
	assert.Equal(t, 1, m.Listeners("update-records")) // ours, not the manager's

	require.Eventually(t, func() bool {
		rooms, err := s.hub.Rooms()
		if err != nil {
			return false
		}
		for _, r := range rooms {
			if r.Members != 0 {
				return false
			}
		}
		return true
	}, timeout, 5*time.Millisecond)
}

func TestDoctorAndPharmacist(t *testing.T) {

	s := start(t, "127.0.0.1:0")

	doctor := New(Config{Server: s.srv.URL, Role: "doctor", PatientID: "ABHA1234", Retry: fastRetry()})
	pharmacist := New(Config{Server: s.srv.URL, Role: "pharmacist", Retry: fastRetry()})

	var mu sync.Mutex
	added := 0
	pharmacist.On("prescriptionAdded", func(e Event) {
		n, err := e.Notification()
		assert.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		if n.PatientID == "PAT002" {
			added++
		}
	})

	run(t, doctor)
	run(t, pharmacist)

	post(t, s, "/api/add-prescription", `{"patientId":"ABHA1234","prescription":{"medicines":[]}}`)
	require.Eventually(t, func() bool { return len(doctor.View().Prescriptions) == 1 }, timeout, 5*time.Millisecond)

	post(t, s, "/api/add-prescription", `{"patientId":"PAT002","prescription":{"medicines":[]}}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return added == 1
	}, timeout, 5*time.Millisecond)

	// no displayed patient, so nothing merged
	assert.Empty(t, pharmacist.View().Prescriptions)
}

func TestResubscribeAfterReconnect(t *testing.T) {

	addr := freeAddr(t)
	s := start(t, addr)

	m := New(Config{Server: s.srv.URL, Role: "patient", PatientID: "ABHA1234", Retry: fastRetry()})

	var mu sync.Mutex
	var states []State
	m.OnState(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, to)
	})

	run(t, m)

	s.stop()

	require.Eventually(t, func() bool { return m.State() == Connecting }, timeout, 5*time.Millisecond)

	s2 := start(t, addr)

	require.Eventually(t, func() bool { return m.State() == Subscribed }, timeout, 5*time.Millisecond)

	// listeners were replaced, not added to
	assert.Equal(t, 1, m.Listeners("update-records"))

	post(t, s2, "/api/add-record", `{"patientId":"ABHA1234","record":{"note":"after restart"}}`)

	// the restarted server has a fresh store, so its first new record is R002 again
	require.Eventually(t, func() bool { return len(m.View().Records) == 2 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "after restart", m.View().Records[0]["note"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Connected, Subscribed, Connecting, Connected, Subscribed}, states)
}

func TestDashboardByUsername(t *testing.T) {

	s := start(t, "127.0.0.1:0")

	m := New(Config{Server: s.srv.URL, Role: "pharmacist", PatientID: "vishwakarma_4294@sbx", Retry: fastRetry()})

	run(t, m)

	assert.Equal(t, "ABHA1234", m.PatientID())
	assert.Equal(t, []string{"patient_ABHA1234", "pharmacist-dashboard"}, m.Joined())

	post(t, s, "/api/add-prescription", `{"patientId":"ABHA1234","prescription":{"medicines":["paracetamol"]}}`)

	require.Eventually(t, func() bool { return len(m.View().Prescriptions) == 1 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "PR001", m.View().Prescriptions[0].ID())

	// writes addressed by username reach the same dashboard
	post(t, s, "/api/add-prescription", `{"patientId":"vishwakarma_4294@sbx","prescription":{"medicines":[]}}`)
	require.Eventually(t, func() bool { return len(m.View().Prescriptions) == 2 }, timeout, 5*time.Millisecond)
	assert.Equal(t, "PR002", m.View().Prescriptions[0].ID())
}

func TestReloadAfterReconnect(t *testing.T) {

	st := testStore(t)
	addr := freeAddr(t)
	s := startWith(t, addr, st)

	m := New(Config{Server: s.srv.URL, Role: "patient", PatientID: "ABHA1234", Retry: fastRetry()})

	run(t, m)
	require.Len(t, m.View().Records, 1)

	s.stop()
	require.Eventually(t, func() bool { return m.State() == Connecting }, timeout, 5*time.Millisecond)

	// committed while the dashboard is away, so no event reaches it
	svc := records.New(st, nil)
	_, err := svc.AddRecord("ABHA1234", store.Entry{"note": "while away"})
	require.NoError(t, err)

	startWith(t, addr, st)

	require.Eventually(t, func() bool { return m.State() == Subscribed }, timeout, 5*time.Millisecond)

	p, err := st.Get("ABHA1234")
	require.NoError(t, err)

	v := m.View()
	require.Len(t, v.Records, len(p.Records))

	ids := []string{}
	for _, e := range v.Records {
		ids = append(ids, e.ID())
	}
	assert.ElementsMatch(t, []string{"R001", "R002"}, ids)
}

func TestLoadKeepsMergedEntries(t *testing.T) {

	s := start(t, "127.0.0.1:0")

	m := New(Config{Server: s.srv.URL, Role: "patient", PatientID: "ABHA1234"})

	require.NoError(t, m.load(context.Background()))

	// an entry merged from an event that a stale response does not have yet
	m.merge(Event{
		Type: "update-records",
		Room: "patient_ABHA1234",
		Data: []byte(`{"patientId":"ABHA1234","record":{"id":"R050","note":"late"},"timestamp":"2025-09-10T00:00:00Z"}`),
	})

	require.NoError(t, m.load(context.Background()))

	ids := []string{}
	for _, e := range m.View().Records {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"R050", "R001"}, ids)
}

func TestRunErrors(t *testing.T) {

	s := start(t, "127.0.0.1:0")

	m := New(Config{Server: s.srv.URL, Role: "patient", PatientID: "nobody"})
	assert.ErrorIs(t, m.Run(context.Background()), ErrPatientNotFound)
	assert.Equal(t, Disconnected, m.State())

	m = New(Config{Server: s.srv.URL, Role: "admin"})
	assert.Error(t, m.Run(context.Background()))

	m = New(Config{Server: "ftp://example.com", Role: "doctor"})
	assert.Error(t, m.Run(context.Background()))
}

func TestOffIsIdempotent(t *testing.T) {

	m := New(Config{Role: "doctor"})

	off1 := m.On("update-records", func(Event) {})
	off2 := m.On("update-records", func(Event) {})
	assert.Equal(t, 2, m.Listeners("update-records"))

	off1()
	off1()
	assert.Equal(t, 1, m.Listeners("update-records"))

	off2()
	assert.Equal(t, 0, m.Listeners("update-records"))
}

func TestWsURL(t *testing.T) {

	m := New(Config{Server: "https://portal.example.com/base/", Token: "a.b.c"})
	u, err := m.wsURL()
	assert.NoError(t, err)
	assert.Equal(t, "wss://portal.example.com/base/ws?token=a.b.c", u)
}
