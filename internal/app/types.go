package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation = errors.New("app: validation failed")
	ErrDuplicate  = errors.New("app: duplicate")
	ErrConflict   = errors.New("app: conflict")
)

// Scheduling rule violations. Each wraps ErrValidation or ErrConflict so
// transports can map them by category.
var (
	ErrAppointmentInPast = fmt.Errorf("%w: appointment time is in the past", ErrValidation)
	ErrInvalidCost       = fmt.Errorf("%w: appointment cost must be positive", ErrValidation)
	ErrSpecialtyMismatch = fmt.Errorf("%w: doctor specialty does not match the room's department", ErrValidation)
	ErrDoctorUnavailable = fmt.Errorf("%w: doctor is not available within the scheduling buffer", ErrConflict)
	ErrRoomUnavailable   = fmt.Errorf("%w: room is not available within the scheduling buffer", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: appointment status transition not allowed", ErrConflict)
)

const DefaultSchedulingBuffer = 2 * time.Hour

// AuditRecorder is satisfied by *audit.Service.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// Deps carries collaborators shared by every service.
type Deps struct {
	Clock  clockwork.Clock
	Audit  AuditRecorder
	Logger *slog.Logger
	// Buffer is the exclusion window on each side of an appointment.
	Buffer time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Buffer <= 0 {
		d.Buffer = DefaultSchedulingBuffer
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Clock.Now().UTC()
}

// record appends an audit event after a committed mutation. A failed append
// is logged and counted; the mutation itself already succeeded.
func (d Deps) record(ctx context.Context, event audit.Event) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Record(ctx, event); err != nil {
		metrics.AuditWriteFailures.Inc()
		d.Logger.WarnContext(ctx, "audit write failed",
			slog.String("action", event.Action),
			slog.String("target_id", event.TargetID),
			slog.String("error", err.Error()),
		)
	}
}

type CreateHospitalRequest struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Phone   string `yaml:"phone" json:"phone"`
}

type CreateDepartmentRequest struct {
	Hospital  string            `json:"hospital"`
	Name      string            `json:"name"`
	Specialty storage.Specialty `json:"specialty"`
}

type CreateRoomRequest struct {
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
	Number     string `json:"number"`
	Kind       string `json:"kind"`
}

type PersonInput struct {
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	DNI       string            `json:"dni"`
	BirthDate time.Time         `json:"birth_date"`
	BloodType storage.BloodType `json:"blood_type"`
}

type CreateDoctorRequest struct {
	PersonInput
	License   string            `json:"license"`
	Specialty storage.Specialty `json:"specialty"`
	// Hospital and Department optionally place the doctor in a department.
	Hospital   string `json:"hospital,omitempty"`
	Department string `json:"department,omitempty"`
}

type AssignDepartmentRequest struct {
	License    string `json:"license"`
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
}

type CreatePatientRequest struct {
	PersonInput
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Hospital string `json:"hospital,omitempty"`
}

// UpdatePatientRequest changes contact data. Nil fields are left untouched.
type UpdatePatientRequest struct {
	DNI       string  `json:"-"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
	Hospital  *string `json:"hospital,omitempty"`
}

type ScheduleRequest struct {
	PatientDNI    string          `json:"patient_dni"`
	DoctorLicense string          `json:"doctor_license"`
	RoomNumber    string          `json:"room_number"`
	At            time.Time       `json:"at"`
	Cost          decimal.Decimal `json:"cost"`
	Notes         string          `json:"notes"`
}

// AppointmentView is an appointment joined with the display names of the
// people and room it references.
type AppointmentView struct {
	storage.Appointment
	PatientName   string `json:"patient_name"`
	PatientDNI    string `json:"patient_dni"`
	DoctorName    string `json:"doctor_name"`
	DoctorLicense string `json:"doctor_license"`
	RoomNumber    string `json:"room_number"`
}
