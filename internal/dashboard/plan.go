package dashboard

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/reconws"
	"github.com/swasthsaathi/portal/internal/records"
)

// Plan is what a dashboard subscribes to: its rooms, and the events it
// merges into its view
type Plan struct {
	Rooms  []string
	Events []string
}

// PlanFor returns the subscription plan of a role. patientID is the
// patient's own id, or the patient selected by a doctor or pharmacist.
func PlanFor(role, patientID string) Plan {

	switch role {

	case login.RolePatient:
		return Plan{
			Rooms: withPatient([]string{}, patientID, records.PatientDashboard),
			Events: []string{
				records.EventUpdateRecords,
				records.EventUpdatePrescriptions,
				records.EventRecordAdded,
				records.EventPrescriptionAdded,
			},
		}

	case login.RolePharmacist:
		return Plan{
			Rooms: withPatient([]string{records.PharmacistDashboard}, patientID),
			Events: []string{
				records.EventUpdatePrescriptions,
				records.EventPrescriptionAdded,
				records.EventRecordAdded,
			},
		}

	case login.RoleDoctor:
		return Plan{
			Rooms: withPatient([]string{}, patientID),
			Events: []string{
				records.EventUpdateRecords,
				records.EventUpdatePrescriptions,
			},
		}
	}

	return Plan{}
}

func withPatient(rooms []string, patientID string, more ...string) []string {
	if patientID != "" {
		rooms = append(rooms, records.PatientRoom(patientID))
	}
	return append(rooms, more...)
}

type command struct {
	Action    string `json:"action"`
	Room      string `json:"room,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

// joins returns the commands that subscribe to the plan's rooms
func (p Plan) joins() []reconws.WsMessage {
	return p.commands(true)
}

// leaves returns the commands that undo joins
func (p Plan) leaves() []reconws.WsMessage {
	return p.commands(false)
}

func (p Plan) commands(join bool) []reconws.WsMessage {

	msgs := []reconws.WsMessage{}

	for _, room := range p.Rooms {

		var cmd command

		if id, ok := records.PatientFromRoom(room); ok {
			cmd = command{Action: "leavePatientRoom", PatientID: id}
			if join {
				cmd.Action = "joinPatientRoom"
			}
		} else {
			cmd = command{Action: "leave", Room: room}
			if join {
				cmd.Action = "join"
			}
		}

		data, err := json.Marshal(cmd)
		if err != nil {
			continue
		}

		msgs = append(msgs, reconws.WsMessage{Data: data, Type: websocket.TextMessage})
	}

	return msgs
}
