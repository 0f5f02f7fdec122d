package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
)

const recordNumberPrefix = "HC-"

type PatientService struct {
	hospitals storage.HospitalRepository
	patients  storage.PatientRepository
	records   storage.RecordRepository
	deps      Deps
}

func NewPatientService(store *storage.Store, deps Deps) *PatientService {
	return &PatientService{
		hospitals: store.Hospitals,
		patients:  store.Patients,
		records:   store.Records,
		deps:      deps.withDefaults(),
	}
}

// Create registers a patient together with an empty medical record.
func (s *PatientService) Create(ctx context.Context, req CreatePatientRequest) (*storage.Patient, *storage.MedicalRecord, error) {
	now := s.deps.now()
	person, err := normalizePerson(req.PersonInput, now)
	if err != nil {
		return nil, nil, err
	}
	phone, err := requireKey("phone", req.Phone)
	if err != nil {
		return nil, nil, err
	}
	address, err := requireKey("address", req.Address)
	if err != nil {
		return nil, nil, err
	}

	patient := &storage.Patient{
		Person:  person,
		Phone:   phone,
		Address: address,
	}
	if hospitalName := strings.TrimSpace(req.Hospital); hospitalName != "" {
		hospital, err := s.hospitals.Get(ctx, hospitalName)
		if err != nil {
			return nil, nil, fmt.Errorf("create patient: hospital %q: %w", hospitalName, err)
		}
		patient.HospitalID = hospital.ID
	}

	record := &storage.MedicalRecord{
		Number:    recordNumber(person.DNI, now.UnixMilli()),
		CreatedAt: now,
	}
	if err := s.patients.Create(ctx, patient, record); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, nil, fmt.Errorf("%w: patient with dni %s already exists", ErrDuplicate, person.DNI)
		}
		return nil, nil, fmt.Errorf("create patient: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionPatientCreate,
		TargetType: "patient",
		TargetID:   patient.ID,
		Details:    patientDetails{RecordID: record.ID},
	})
	return patient, record, nil
}

func recordNumber(dni string, millis int64) string {
	return recordNumberPrefix + dni + "-" + strconv.FormatInt(millis, 10)
}

func (s *PatientService) Get(ctx context.Context, dni string) (*storage.Patient, error) {
	dni, err := requireKey("dni", dni)
	if err != nil {
		return nil, err
	}
	patient, err := s.patients.Get(ctx, dni)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return patient, nil
}

func (s *PatientService) List(ctx context.Context, hospitalName, search string) ([]storage.Patient, error) {
	filter := storage.PatientFilter{Search: strings.TrimSpace(search)}
	if hospitalName = strings.TrimSpace(hospitalName); hospitalName != "" {
		hospital, err := s.hospitals.Get(ctx, hospitalName)
		if err != nil {
			return nil, fmt.Errorf("list patients: hospital %q: %w", hospitalName, err)
		}
		filter.HospitalID = hospital.ID
	}
	patients, err := s.patients.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return patients, nil
}

func (s *PatientService) Update(ctx context.Context, req UpdatePatientRequest) (*storage.Patient, error) {
	patient, err := s.Get(ctx, req.DNI)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	if req.FirstName != nil {
		if patient.FirstName, err = requireKey("first name", *req.FirstName); err != nil {
			return nil, err
		}
		changed = append(changed, "first_name")
	}
	if req.LastName != nil {
		if patient.LastName, err = requireKey("last name", *req.LastName); err != nil {
			return nil, err
		}
		changed = append(changed, "last_name")
	}
	if req.Phone != nil {
		if patient.Phone, err = requireKey("phone", *req.Phone); err != nil {
			return nil, err
		}
		changed = append(changed, "phone")
	}
	if req.Address != nil {
		if patient.Address, err = requireKey("address", *req.Address); err != nil {
			return nil, err
		}
		changed = append(changed, "address")
	}
	if req.Hospital != nil {
		patient.HospitalID = ""
		if hospitalName := strings.TrimSpace(*req.Hospital); hospitalName != "" {
			hospital, err := s.hospitals.Get(ctx, hospitalName)
			if err != nil {
				return nil, fmt.Errorf("update patient: hospital %q: %w", hospitalName, err)
			}
			patient.HospitalID = hospital.ID
		}
		changed = append(changed, "hospital")
	}
	if len(changed) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	if err := s.patients.Update(ctx, patient); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}

	// Only field names are audited; the values are personal data.
	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionPatientUpdate,
		TargetType: "patient",
		TargetID:   patient.ID,
		Details:    patientDetails{Fields: changed},
	})
	return patient, nil
}

// Delete soft-deletes the patient and cancels their upcoming scheduled
// appointments. The medical record is retained.
func (s *PatientService) Delete(ctx context.Context, dni string) (int, error) {
	patient, err := s.Get(ctx, dni)
	if err != nil {
		return 0, err
	}
	cancelled, err := s.patients.Delete(ctx, patient.DNI, s.deps.now())
	if err != nil {
		return 0, fmt.Errorf("delete patient: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionPatientDelete,
		TargetType: "patient",
		TargetID:   patient.ID,
		Details:    patientDetails{Cancelled: cancelled},
	})
	return cancelled, nil
}

func (s *PatientService) Record(ctx context.Context, dni string) (*storage.MedicalRecord, error) {
	patient, err := s.Get(ctx, dni)
	if err != nil {
		return nil, err
	}
	record, err := s.records.GetByPatientID(ctx, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	return record, nil
}

func (s *PatientService) AddDiagnosis(ctx context.Context, dni, text string) (*storage.RecordEntry, error) {
	return s.AddEntry(ctx, dni, storage.RecordEntryDiagnosis, text)
}

func (s *PatientService) AddTreatment(ctx context.Context, dni, text string) (*storage.RecordEntry, error) {
	return s.AddEntry(ctx, dni, storage.RecordEntryTreatment, text)
}

func (s *PatientService) AddAllergy(ctx context.Context, dni, text string) (*storage.RecordEntry, error) {
	return s.AddEntry(ctx, dni, storage.RecordEntryAllergy, text)
}

// AddEntry appends a diagnosis, treatment or allergy to the patient's record.
func (s *PatientService) AddEntry(ctx context.Context, dni string, kind storage.RecordEntryKind, text string) (*storage.RecordEntry, error) {
	kind, err := ParseRecordEntryKind(string(kind))
	if err != nil {
		return nil, err
	}
	text, err = requireKey(string(kind), text)
	if err != nil {
		return nil, err
	}
	record, err := s.Record(ctx, dni)
	if err != nil {
		return nil, err
	}

	entry := &storage.RecordEntry{
		Kind:      kind,
		Text:      text,
		CreatedAt: s.deps.now(),
	}
	if err := s.records.AddEntry(ctx, record.ID, entry); err != nil {
		return nil, fmt.Errorf("add %s: %w", kind, err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionRecordAppend,
		TargetType: "medical_record",
		TargetID:   record.ID,
		Details:    recordDetails{Kind: string(kind), EntryID: entry.ID},
	})
	return entry, nil
}

type patientDetails struct {
	RecordID  string   `json:"record_id,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Cancelled int      `json:"cancelled_appointments,omitempty"`
}

type recordDetails struct {
	Kind    string `json:"kind"`
	EntryID string `json:"entry_id"`
}
