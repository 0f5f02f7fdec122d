package audit

import "time"

const (
	ActionHospitalCreate   = "hospital.create"
	ActionDepartmentCreate = "department.create"
	ActionRoomCreate       = "room.create"

	ActionDoctorCreate = "doctor.create"
	ActionDoctorAssign = "doctor.assign"
	ActionDoctorDelete = "doctor.delete"

	ActionPatientCreate = "patient.create"
	ActionPatientUpdate = "patient.update"
	ActionPatientDelete = "patient.delete"
	ActionRecordAppend  = "record.append"

	ActionAppointmentSchedule = "appointment.schedule"
	ActionAppointmentStatus   = "appointment.status"
	ActionAppointmentNoShow   = "appointment.no-show"

	ActionSeedLoad     = "seed.load"
	ActionExportCreate = "export.create"
	ActionBackupCreate = "backup.create"

	ActionSystemServeStart = "system.serve.start"
	ActionSystemServeStop  = "system.serve.stop"
)

var AllActionTypes = []string{
	ActionHospitalCreate,
	ActionDepartmentCreate,
	ActionRoomCreate,
	ActionDoctorCreate,
	ActionDoctorAssign,
	ActionDoctorDelete,
	ActionPatientCreate,
	ActionPatientUpdate,
	ActionPatientDelete,
	ActionRecordAppend,
	ActionAppointmentSchedule,
	ActionAppointmentStatus,
	ActionAppointmentNoShow,
	ActionSeedLoad,
	ActionExportCreate,
	ActionBackupCreate,
	ActionSystemServeStart,
	ActionSystemServeStop,
}

type Event struct {
	Timestamp  time.Time
	Action     string
	TargetType string
	TargetID   string
	Result     string
	Actor      string
	Details    any
}

type Filter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type RecordedEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor,omitempty"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type,omitempty"`
	TargetID    string    `json:"target_id,omitempty"`
	Result      string    `json:"result"`
	DetailsJSON string    `json:"details"`
	PrevHash    string    `json:"prev_hash"`
	EventHash   string    `json:"event_hash"`
}

type VerifyResult struct {
	Valid      bool   `json:"valid"`
	EventCount int    `json:"event_count"`
	ChainTip   string `json:"chain_tip"`
	Error      string `json:"error,omitempty"`
}
