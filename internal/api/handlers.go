package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/apperr"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/store"
)

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned for a successful login
type LoginResponse struct {
	Success bool       `json:"success"`
	User    login.User `json:"user"`
	Token   string     `json:"token"`
}

// PatientResponse is returned by GET /api/patient/{id}
type PatientResponse struct {
	Profile       store.Profile `json:"profile"`
	Records       []store.Entry `json:"records"`
	Prescriptions []store.Entry `json:"prescriptions"`
}

// AddRecordRequest is the body of POST /api/add-record
type AddRecordRequest struct {
	PatientID string      `json:"patientId"`
	Record    store.Entry `json:"record"`
}

// AddPrescriptionRequest is the body of POST /api/add-prescription
type AddPrescriptionRequest struct {
	PatientID    string      `json:"patientId"`
	Prescription store.Entry `json:"prescription"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var errBadBody = apperr.Validation("Invalid JSON payload")

// Login checks credentials and returns the user with a session token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {

	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}

	if req.Role == "" || req.Username == "" || req.Password == "" {
		writeError(w, apperr.Validation("Role, username, and password are required"))
		return
	}

	user, err := h.config.Directory.Verify(req.Username, req.Password, req.Role)

	if err != nil {
		log.WithFields(log.Fields{"username": req.Username, "role": req.Role}).Info("failed login")
		writeError(w, err)
		return
	}

	now := h.config.Now()

	token := login.NewToken(h.config.Audience, user, now.Unix(), now.Add(h.config.TokenTTL).Unix())

	signed, err := login.Signed(token, h.config.Secret)

	if err != nil {
		writeError(w, apperr.Internal("signing token", err))
		return
	}

	log.WithFields(log.Fields{"user": user.ID, "role": user.Role}).Info("login")

	writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		User:    user,
		Token:   signed,
	})
}

// GetPatient returns a patient's profile, records and prescriptions
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {

	p, err := h.config.Service.Patient(mux.Vars(r)["id"])

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PatientResponse{
		Profile:       p.Profile(),
		Records:       p.Records,
		Prescriptions: p.Prescriptions,
	})
}

// AddRecord appends a medical record to a patient
func (h *Handlers) AddRecord(w http.ResponseWriter, r *http.Request) {

	var req AddRecordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}

	e, err := h.config.Service.AddRecord(req.PatientID, req.Record)

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// AddPrescription appends a prescription to a patient
func (h *Handlers) AddPrescription(w http.ResponseWriter, r *http.Request) {

	var req AddPrescriptionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadBody)
		return
	}

	e, err := h.config.Service.AddPrescription(req.PatientID, req.Prescription)

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// Health reports that the server is up
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "OK", Message: "Server is running"})
}

// Stats reports hub rooms and statistics
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {

	report, err := h.config.Hub.Stats()

	if err != nil {
		writeError(w, apperr.Internal("hub stats", err))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithField("error", err.Error()).Error("failed to encode JSON response")
	}
}

// writeError converts any error into a response, hiding internal detail
func writeError(w http.ResponseWriter, err error) {

	if apperr.KindOf(err) == apperr.KindInternal {
		log.WithField("error", err.Error()).Error("internal error")
	}

	writeJSON(w, apperr.Status(err), ErrorResponse{
		Success: false,
		Message: apperr.Message(err),
	})
}
