package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
)

type AppointmentService struct {
	patients     storage.PatientRepository
	doctors      storage.DoctorRepository
	rooms        storage.RoomRepository
	departments  storage.DepartmentRepository
	appointments storage.AppointmentRepository
	deps         Deps
}

func NewAppointmentService(store *storage.Store, deps Deps) *AppointmentService {
	return &AppointmentService{
		patients:     store.Patients,
		doctors:      store.Doctors,
		rooms:        store.Rooms,
		departments:  store.Departments,
		appointments: store.Appointments,
		deps:         deps.withDefaults(),
	}
}

// Schedule books an appointment. Rules are checked in order: time not in the
// past, positive cost, doctor specialty equal to the room's department
// specialty, doctor free within the buffer, room free within the buffer.
func (s *AppointmentService) Schedule(ctx context.Context, req ScheduleRequest) (*AppointmentView, error) {
	dni, err := requireKey("patient dni", req.PatientDNI)
	if err != nil {
		return nil, err
	}
	license, err := requireKey("doctor license", req.DoctorLicense)
	if err != nil {
		return nil, err
	}
	roomNumber, err := requireKey("room number", req.RoomNumber)
	if err != nil {
		return nil, err
	}
	if req.At.IsZero() {
		return nil, fmt.Errorf("%w: appointment time is required", ErrValidation)
	}

	now := s.deps.now()
	if req.At.Before(now) {
		return nil, s.reject(ctx, "in_past", fmt.Errorf("%w: %s is before %s",
			ErrAppointmentInPast, req.At.UTC().Format(time.RFC3339), now.Format(time.RFC3339)))
	}
	if req.Cost.LessThanOrEqual(decimal.Zero) {
		return nil, s.reject(ctx, "invalid_cost", fmt.Errorf("%w: got %s", ErrInvalidCost, req.Cost.String()))
	}

	patient, err := s.patients.Get(ctx, dni)
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: patient: %w", err)
	}
	doctor, err := s.doctors.Get(ctx, license)
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: doctor %s: %w", license, err)
	}
	room, err := s.rooms.Get(ctx, roomNumber)
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: room %s: %w", roomNumber, err)
	}
	department, err := s.departments.GetByID(ctx, room.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: room department: %w", err)
	}

	if doctor.Specialty != department.Specialty {
		return nil, s.reject(ctx, "specialty_mismatch", fmt.Errorf("%w: doctor is %s, room %s belongs to %s",
			ErrSpecialtyMismatch, doctor.Specialty, room.Number, department.Specialty))
	}

	appointment := &storage.Appointment{
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		RoomID:    room.ID,
		At:        req.At.UTC(),
		Cost:      req.Cost,
		Notes:     req.Notes,
		Status:    storage.AppointmentScheduled,
	}
	if err := s.appointments.CreateIfAvailable(ctx, appointment, s.deps.Buffer); err != nil {
		switch {
		case errors.Is(err, storage.ErrDoctorBusy):
			return nil, s.reject(ctx, "doctor_unavailable", fmt.Errorf("%w: %s within %s of %s",
				ErrDoctorUnavailable, doctor.License, s.deps.Buffer, appointment.At.Format(time.RFC3339)))
		case errors.Is(err, storage.ErrRoomBusy):
			return nil, s.reject(ctx, "room_unavailable", fmt.Errorf("%w: %s within %s of %s",
				ErrRoomUnavailable, room.Number, s.deps.Buffer, appointment.At.Format(time.RFC3339)))
		default:
			return nil, fmt.Errorf("schedule appointment: %w", err)
		}
	}

	metrics.AppointmentsScheduled.Inc()
	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionAppointmentSchedule,
		TargetType: "appointment",
		TargetID:   appointment.ID,
		Details: appointmentDetails{
			Doctor: doctor.License,
			Room:   room.Number,
			At:     appointment.At.Format(time.RFC3339),
			Cost:   appointment.Cost.String(),
		},
	})
	s.deps.Logger.InfoContext(ctx, "appointment scheduled",
		"appointment_id", appointment.ID,
		"doctor", doctor.License,
		"room", room.Number,
	)

	return &AppointmentView{
		Appointment:   *appointment,
		PatientName:   patient.FullName(),
		PatientDNI:    patient.DNI,
		DoctorName:    doctor.FullName(),
		DoctorLicense: doctor.License,
		RoomNumber:    room.Number,
	}, nil
}

func (s *AppointmentService) reject(ctx context.Context, reason string, err error) error {
	metrics.AppointmentRejections.WithLabelValues(reason).Inc()
	s.deps.Logger.DebugContext(ctx, "appointment rejected", "reason", reason)
	return err
}

// ForPatient lists a patient's appointments newest first. An empty dni yields
// an empty list.
func (s *AppointmentService) ForPatient(ctx context.Context, dni string) ([]AppointmentView, error) {
	if dni == "" {
		return []AppointmentView{}, nil
	}
	patient, err := s.patients.Get(ctx, dni)
	if err != nil {
		return nil, fmt.Errorf("patient appointments: %w", err)
	}
	appointments, err := s.appointments.ListByPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, appointments)
}

// ForDoctor lists a doctor's appointments oldest first. An empty license
// yields an empty list.
func (s *AppointmentService) ForDoctor(ctx context.Context, license string) ([]AppointmentView, error) {
	if license == "" {
		return []AppointmentView{}, nil
	}
	doctor, err := s.doctors.Get(ctx, license)
	if err != nil {
		return nil, fmt.Errorf("doctor appointments %s: %w", license, err)
	}
	appointments, err := s.appointments.ListByDoctor(ctx, doctor.ID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, appointments)
}

func (s *AppointmentService) Get(ctx context.Context, id string) (*AppointmentView, error) {
	id, err := requireKey("appointment id", id)
	if err != nil {
		return nil, err
	}
	appointment, err := s.appointments.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	views, err := s.views(ctx, []storage.Appointment{*appointment})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *AppointmentService) List(ctx context.Context, filter storage.AppointmentFilter) ([]AppointmentView, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: range end is before range start", ErrValidation)
	}
	appointments, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, appointments)
}

// UpdateStatus applies a status transition. Completed, cancelled and no-show
// appointments are final.
func (s *AppointmentService) UpdateStatus(ctx context.Context, id string, status storage.AppointmentStatus) (*AppointmentView, error) {
	to, err := ParseAppointmentStatus(string(status))
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := current.Status
	if !canTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := s.appointments.UpdateStatus(ctx, current.ID, from, to); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	current.Status = to
	current.UpdatedAt = s.deps.now()

	metrics.AppointmentStatusChanges.WithLabelValues(string(to)).Inc()
	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionAppointmentStatus,
		TargetType: "appointment",
		TargetID:   current.ID,
		Details:    statusDetails{From: string(from), To: string(to)},
	})
	return current, nil
}

func (s *AppointmentService) Cancel(ctx context.Context, id string) (*AppointmentView, error) {
	return s.UpdateStatus(ctx, id, storage.AppointmentCancelled)
}

// MarkNoShows moves scheduled appointments older than now-grace to no_show
// and returns how many were changed. Appointments whose status changed
// concurrently are skipped.
func (s *AppointmentService) MarkNoShows(ctx context.Context, grace time.Duration) (int, error) {
	if grace < 0 {
		return 0, fmt.Errorf("%w: grace must not be negative", ErrValidation)
	}
	cutoff := s.deps.now().Add(-grace)
	stale, err := s.appointments.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark no-shows: %w", err)
	}

	marked := 0
	for _, appointment := range stale {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		err := s.appointments.UpdateStatus(ctx, appointment.ID, storage.AppointmentScheduled, storage.AppointmentNoShow)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return marked, fmt.Errorf("mark no-shows: %w", err)
		}
		marked++
		s.deps.record(ctx, audit.Event{
			Action:     audit.ActionAppointmentNoShow,
			TargetType: "appointment",
			TargetID:   appointment.ID,
			Details:    statusDetails{From: string(storage.AppointmentScheduled), To: string(storage.AppointmentNoShow)},
		})
	}

	if marked > 0 {
		metrics.NoShowsMarked.Add(float64(marked))
		metrics.AppointmentStatusChanges.WithLabelValues(string(storage.AppointmentNoShow)).Add(float64(marked))
	}
	return marked, nil
}

// views resolves display names, caching lookups across the batch.
func (s *AppointmentService) views(ctx context.Context, appointments []storage.Appointment) ([]AppointmentView, error) {
	patients := map[string]*storage.Patient{}
	doctors := map[string]*storage.Doctor{}
	rooms := map[string]*storage.Room{}

	out := make([]AppointmentView, 0, len(appointments))
	for _, appointment := range appointments {
		patient, ok := patients[appointment.PatientID]
		if !ok {
			p, err := s.patients.GetByID(ctx, appointment.PatientID)
			if err != nil {
				return nil, fmt.Errorf("resolve appointment patient: %w", err)
			}
			patients[appointment.PatientID] = p
			patient = p
		}
		doctor, ok := doctors[appointment.DoctorID]
		if !ok {
			d, err := s.doctors.GetByID(ctx, appointment.DoctorID)
			if err != nil {
				return nil, fmt.Errorf("resolve appointment doctor: %w", err)
			}
			doctors[appointment.DoctorID] = d
			doctor = d
		}
		room, ok := rooms[appointment.RoomID]
		if !ok {
			r, err := s.rooms.GetByID(ctx, appointment.RoomID)
			if err != nil {
				return nil, fmt.Errorf("resolve appointment room: %w", err)
			}
			rooms[appointment.RoomID] = r
			room = r
		}

		out = append(out, AppointmentView{
			Appointment:   appointment,
			PatientName:   patient.FullName(),
			PatientDNI:    patient.DNI,
			DoctorName:    doctor.FullName(),
			DoctorLicense: doctor.License,
			RoomNumber:    room.Number,
		})
	}
	return out, nil
}

type appointmentDetails struct {
	Doctor string `json:"doctor"`
	Room   string `json:"room"`
	At     string `json:"at"`
	Cost   string `json:"cost"`
}

type statusDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}
