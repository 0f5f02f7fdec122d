package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrConflict     = errors.New("storage: unique constraint violated")
	ErrSchemaTooNew = errors.New("storage: schema version newer than code")
	ErrDoctorBusy   = errors.New("storage: doctor has an appointment within the buffer")
	ErrRoomBusy     = errors.New("storage: room has an appointment within the buffer")
)

type Specialty string

const (
	SpecialtyCardiology      Specialty = "cardiology"
	SpecialtyPediatrics      Specialty = "pediatrics"
	SpecialtyTraumatology    Specialty = "traumatology"
	SpecialtyNeurology       Specialty = "neurology"
	SpecialtyDermatology     Specialty = "dermatology"
	SpecialtyGynecology      Specialty = "gynecology"
	SpecialtyOncology        Specialty = "oncology"
	SpecialtyOphthalmology   Specialty = "ophthalmology"
	SpecialtyPsychiatry      Specialty = "psychiatry"
	SpecialtyGeneralMedicine Specialty = "general_medicine"
)

var AllSpecialties = []Specialty{
	SpecialtyCardiology,
	SpecialtyPediatrics,
	SpecialtyTraumatology,
	SpecialtyNeurology,
	SpecialtyDermatology,
	SpecialtyGynecology,
	SpecialtyOncology,
	SpecialtyOphthalmology,
	SpecialtyPsychiatry,
	SpecialtyGeneralMedicine,
}

type BloodType string

const (
	BloodTypeAPositive  BloodType = "A+"
	BloodTypeANegative  BloodType = "A-"
	BloodTypeBPositive  BloodType = "B+"
	BloodTypeBNegative  BloodType = "B-"
	BloodTypeABPositive BloodType = "AB+"
	BloodTypeABNegative BloodType = "AB-"
	BloodTypeOPositive  BloodType = "O+"
	BloodTypeONegative  BloodType = "O-"
)

var AllBloodTypes = []BloodType{
	BloodTypeAPositive,
	BloodTypeANegative,
	BloodTypeBPositive,
	BloodTypeBNegative,
	BloodTypeABPositive,
	BloodTypeABNegative,
	BloodTypeOPositive,
	BloodTypeONegative,
}

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

type RecordEntryKind string

const (
	RecordEntryDiagnosis RecordEntryKind = "diagnosis"
	RecordEntryTreatment RecordEntryKind = "treatment"
	RecordEntryAllergy   RecordEntryKind = "allergy"
)

type Hospital struct {
	ID        string
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Department struct {
	ID         string
	HospitalID string
	Name       string
	Specialty  Specialty
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DepartmentFilter struct {
	HospitalID string
	Specialty  Specialty
}

type Room struct {
	ID           string
	DepartmentID string
	Number       string
	Kind         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RoomFilter struct {
	DepartmentID string
}

// Person holds the identity fields shared by doctors and patients.
type Person struct {
	FirstName string
	LastName  string
	DNI       string
	BirthDate time.Time
	BloodType BloodType
}

func (p Person) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Age returns completed years between BirthDate and now, or 0 when the
// birth date is unknown.
func (p Person) Age(now time.Time) int {
	if p.BirthDate.IsZero() {
		return 0
	}
	years := now.Year() - p.BirthDate.Year()
	if now.Month() < p.BirthDate.Month() || (now.Month() == p.BirthDate.Month() && now.Day() < p.BirthDate.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

type Doctor struct {
	ID string
	Person
	License      string
	Specialty    Specialty
	DepartmentID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type DoctorFilter struct {
	Specialty    Specialty
	DepartmentID string
}

type Patient struct {
	ID string
	Person
	Phone      string
	Address    string
	HospitalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

type PatientFilter struct {
	HospitalID string
	Search     string
}

type RecordEntry struct {
	ID        string
	Kind      RecordEntryKind
	Text      string
	CreatedAt time.Time
}

// MedicalRecord is the clinical history attached one-to-one to a patient.
type MedicalRecord struct {
	ID         string
	PatientID  string
	Number     string
	CreatedAt  time.Time
	Diagnoses  []RecordEntry
	Treatments []RecordEntry
	Allergies  []RecordEntry
}

type Appointment struct {
	ID        string
	PatientID string
	DoctorID  string
	RoomID    string
	At        time.Time
	Cost      decimal.Decimal
	Notes     string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AppointmentFilter struct {
	From   *time.Time
	To     *time.Time
	Status AppointmentStatus
	Limit  int
}

type AuditEvent struct {
	ID          string
	Actor       string
	Action      string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EventHash   string
	CreatedAt   time.Time
}

type AuditFilter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type HospitalRepository interface {
	Create(ctx context.Context, hospital *Hospital) error
	Get(ctx context.Context, name string) (*Hospital, error)
	GetByID(ctx context.Context, id string) (*Hospital, error)
	List(ctx context.Context) ([]Hospital, error)
}

type DepartmentRepository interface {
	Create(ctx context.Context, department *Department) error
	Get(ctx context.Context, hospitalID, name string) (*Department, error)
	GetByID(ctx context.Context, id string) (*Department, error)
	List(ctx context.Context, filter DepartmentFilter) ([]Department, error)
}

type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	Get(ctx context.Context, number string) (*Room, error)
	GetByID(ctx context.Context, id string) (*Room, error)
	List(ctx context.Context, filter RoomFilter) ([]Room, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, doctor *Doctor) error
	Get(ctx context.Context, license string) (*Doctor, error)
	GetByID(ctx context.Context, id string) (*Doctor, error)
	List(ctx context.Context, filter DoctorFilter) ([]Doctor, error)
	SetDepartment(ctx context.Context, doctorID, departmentID string) error
	Delete(ctx context.Context, license string, cancelFrom time.Time) (int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, patient *Patient, record *MedicalRecord) error
	Get(ctx context.Context, dni string) (*Patient, error)
	GetByID(ctx context.Context, id string) (*Patient, error)
	List(ctx context.Context, filter PatientFilter) ([]Patient, error)
	Update(ctx context.Context, patient *Patient) error
	Delete(ctx context.Context, dni string, cancelFrom time.Time) (int, error)
}

type RecordRepository interface {
	GetByPatientID(ctx context.Context, patientID string) (*MedicalRecord, error)
	AddEntry(ctx context.Context, recordID string, entry *RecordEntry) error
}

type AppointmentRepository interface {
	CreateIfAvailable(ctx context.Context, appointment *Appointment, buffer time.Duration) error
	Get(ctx context.Context, id string) (*Appointment, error)
	List(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error)
	ListStale(ctx context.Context, before time.Time) ([]Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to AppointmentStatus) error
}

type AuditRepository interface {
	Append(ctx context.Context, link ChainLink) (*AuditEvent, error)
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	ChainTip(ctx context.Context) (string, error)
}
