package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/demo.yaml
var demoFixture []byte

type SeedFixture struct {
	Hospitals    []SeedHospital    `yaml:"hospitals"`
	Doctors      []SeedDoctor      `yaml:"doctors"`
	Patients     []SeedPatient     `yaml:"patients"`
	Appointments []SeedAppointment `yaml:"appointments"`
}

type SeedHospital struct {
	Name        string           `yaml:"name"`
	Address     string           `yaml:"address"`
	Phone       string           `yaml:"phone"`
	Departments []SeedDepartment `yaml:"departments"`
}

type SeedDepartment struct {
	Name      string     `yaml:"name"`
	Specialty string     `yaml:"specialty"`
	Rooms     []SeedRoom `yaml:"rooms"`
}

type SeedRoom struct {
	Number string `yaml:"number"`
	Kind   string `yaml:"kind"`
}

type SeedPerson struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	DNI       string `yaml:"dni"`
	BirthDate string `yaml:"birth_date"`
	BloodType string `yaml:"blood_type"`
}

type SeedDoctor struct {
	SeedPerson `yaml:",inline"`
	License    string `yaml:"license"`
	Specialty  string `yaml:"specialty"`
	Hospital   string `yaml:"hospital"`
	Department string `yaml:"department"`
}

type SeedPatient struct {
	SeedPerson `yaml:",inline"`
	Phone      string `yaml:"phone"`
	Address    string `yaml:"address"`
	Hospital   string `yaml:"hospital"`
}

// SeedAppointment places an appointment DayOffset days from the seed date at
// Hour:00 UTC.
type SeedAppointment struct {
	Patient   string `yaml:"patient"`
	Doctor    string `yaml:"doctor"`
	Room      string `yaml:"room"`
	DayOffset int    `yaml:"day_offset"`
	Hour      int    `yaml:"hour"`
	Cost      string `yaml:"cost"`
	Notes     string `yaml:"notes"`
	Status    string `yaml:"status"`
}

type SeedReport struct {
	Hospitals    int             `json:"hospitals"`
	Departments  int             `json:"departments"`
	Rooms        int             `json:"rooms"`
	Doctors      int             `json:"doctors"`
	Patients     int             `json:"patients"`
	Appointments int             `json:"appointments"`
	Skipped      int             `json:"skipped"`
	Rejected     []SeedRejection `json:"rejected,omitempty"`
}

// SeedRejection is an appointment refused by a scheduling rule.
type SeedRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type SeedService struct {
	hospitals    *HospitalService
	departments  *DepartmentService
	rooms        *RoomService
	doctors      *DoctorService
	patients     *PatientService
	appointments *AppointmentService
	deps         Deps
}

func NewSeedService(hospitals *HospitalService, departments *DepartmentService, rooms *RoomService, doctors *DoctorService, patients *PatientService, appointments *AppointmentService, deps Deps) *SeedService {
	return &SeedService{
		hospitals:    hospitals,
		departments:  departments,
		rooms:        rooms,
		doctors:      doctors,
		patients:     patients,
		appointments: appointments,
		deps:         deps.withDefaults(),
	}
}

func DemoFixture() (*SeedFixture, error) {
	return DecodeFixture(demoFixture)
}

func LoadFixtureFile(path string) (*SeedFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed fixture: %w", err)
	}
	return DecodeFixture(data)
}

func DecodeFixture(data []byte) (*SeedFixture, error) {
	var fixture SeedFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("%w: parse seed fixture: %v", ErrValidation, err)
	}
	return &fixture, nil
}

// Load applies the fixture through the regular services so every validation
// and scheduling rule holds for seeded data. Entities that already exist are
// skipped. Appointments refused by a scheduling rule are reported rather than
// failing the load.
func (s *SeedService) Load(ctx context.Context, fixture *SeedFixture) (*SeedReport, error) {
	if fixture == nil {
		return nil, fmt.Errorf("%w: seed fixture is nil", ErrValidation)
	}
	report := &SeedReport{}

	for _, h := range fixture.Hospitals {
		_, err := s.hospitals.Create(ctx, CreateHospitalRequest{Name: h.Name, Address: h.Address, Phone: h.Phone})
		if err := report.tally(err, &report.Hospitals); err != nil {
			return nil, fmt.Errorf("seed hospital %q: %w", h.Name, err)
		}
		for _, d := range h.Departments {
			_, err := s.departments.Create(ctx, CreateDepartmentRequest{
				Hospital:  h.Name,
				Name:      d.Name,
				Specialty: storage.Specialty(d.Specialty),
			})
			if err := report.tally(err, &report.Departments); err != nil {
				return nil, fmt.Errorf("seed department %q: %w", d.Name, err)
			}
			for _, r := range d.Rooms {
				_, err := s.rooms.Create(ctx, CreateRoomRequest{
					Hospital:   h.Name,
					Department: d.Name,
					Number:     r.Number,
					Kind:       r.Kind,
				})
				if err := report.tally(err, &report.Rooms); err != nil {
					return nil, fmt.Errorf("seed room %q: %w", r.Number, err)
				}
			}
		}
	}

	for _, d := range fixture.Doctors {
		person, err := d.SeedPerson.input()
		if err != nil {
			return nil, fmt.Errorf("seed doctor %s: %w", d.License, err)
		}
		_, err = s.doctors.Create(ctx, CreateDoctorRequest{
			PersonInput: person,
			License:     d.License,
			Specialty:   storage.Specialty(d.Specialty),
			Hospital:    d.Hospital,
			Department:  d.Department,
		})
		if err := report.tally(err, &report.Doctors); err != nil {
			return nil, fmt.Errorf("seed doctor %s: %w", d.License, err)
		}
	}

	for i, p := range fixture.Patients {
		person, err := p.SeedPerson.input()
		if err != nil {
			return nil, fmt.Errorf("seed patient #%d: %w", i+1, err)
		}
		_, _, err = s.patients.Create(ctx, CreatePatientRequest{
			PersonInput: person,
			Phone:       p.Phone,
			Address:     p.Address,
			Hospital:    p.Hospital,
		})
		if err := report.tally(err, &report.Patients); err != nil {
			return nil, fmt.Errorf("seed patient #%d: %w", i+1, err)
		}
	}

	today := s.deps.now().Truncate(24 * time.Hour)
	for i, a := range fixture.Appointments {
		if err := s.seedAppointment(ctx, today, a); err != nil {
			if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) {
				report.Rejected = append(report.Rejected, SeedRejection{Index: i + 1, Reason: err.Error()})
				continue
			}
			return nil, fmt.Errorf("seed appointment #%d: %w", i+1, err)
		}
		report.Appointments++
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionSeedLoad,
		TargetType: "seed",
		Details:    report.summary(),
	})
	return report, nil
}

func (s *SeedService) seedAppointment(ctx context.Context, today time.Time, a SeedAppointment) error {
	if a.Hour < 0 || a.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range", ErrValidation, a.Hour)
	}
	cost, err := decimal.NewFromString(a.Cost)
	if err != nil {
		return fmt.Errorf("%w: invalid cost %q", ErrInvalidCost, a.Cost)
	}

	appointment, err := s.appointments.Schedule(ctx, ScheduleRequest{
		PatientDNI:    a.Patient,
		DoctorLicense: a.Doctor,
		RoomNumber:    a.Room,
		At:            today.AddDate(0, 0, a.DayOffset).Add(time.Duration(a.Hour) * time.Hour),
		Cost:          cost,
		Notes:         a.Notes,
	})
	if err != nil {
		return err
	}
	if a.Status != "" && a.Status != string(storage.AppointmentScheduled) {
		if _, err := s.appointments.UpdateStatus(ctx, appointment.ID, storage.AppointmentStatus(a.Status)); err != nil {
			return err
		}
	}
	return nil
}

func (p SeedPerson) input() (PersonInput, error) {
	birth, err := ParseDate(p.BirthDate)
	if err != nil {
		return PersonInput{}, err
	}
	return PersonInput{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		DNI:       p.DNI,
		BirthDate: birth,
		BloodType: storage.BloodType(p.BloodType),
	}, nil
}

// tally counts a created entity or a skipped duplicate and passes any other
// error through.
func (r *SeedReport) tally(err error, counter *int) error {
	switch {
	case err == nil:
		*counter++
		return nil
	case errors.Is(err, ErrDuplicate):
		r.Skipped++
		return nil
	default:
		return err
	}
}

type seedSummary struct {
	Hospitals    int `json:"hospitals"`
	Departments  int `json:"departments"`
	Rooms        int `json:"rooms"`
	Doctors      int `json:"doctors"`
	Patients     int `json:"patients"`
	Appointments int `json:"appointments"`
	Skipped      int `json:"skipped"`
	Rejected     int `json:"rejected"`
}

func (r *SeedReport) summary() seedSummary {
	return seedSummary{
		Hospitals:    r.Hospitals,
		Departments:  r.Departments,
		Rooms:        r.Rooms,
		Doctors:      r.Doctors,
		Patients:     r.Patients,
		Appointments: r.Appointments,
		Skipped:      r.Skipped,
		Rejected:     len(r.Rejected),
	}
}
