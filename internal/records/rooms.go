package records

import "strings"

// Rooms that every write is broadcast to
const (
	PatientDashboard    = "patient-dashboard"
	PharmacistDashboard = "pharmacist-dashboard"
)

// Event types published by the service
const (
	EventUpdateRecords       = "update-records"
	EventUpdatePrescriptions = "update-prescriptions"
	EventRecordAdded         = "medicalRecordAdded"
	EventPrescriptionAdded   = "prescriptionAdded"
)

const patientRoomPrefix = "patient_"

// PatientRoom returns the room that carries updates for one patient
func PatientRoom(patientID string) string {
	return patientRoomPrefix + patientID
}

// PatientFromRoom returns the patient id of a patient room
func PatientFromRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, patientRoomPrefix) || len(room) == len(patientRoomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, patientRoomPrefix), true
}

// RoleRoom returns the broadcast room of a dashboard role
func RoleRoom(role string) string {
	return role + "-dashboard"
}
