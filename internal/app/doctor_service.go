package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
)

type DoctorService struct {
	hospitals   storage.HospitalRepository
	departments storage.DepartmentRepository
	doctors     storage.DoctorRepository
	deps        Deps
}

func NewDoctorService(store *storage.Store, deps Deps) *DoctorService {
	return &DoctorService{
		hospitals:   store.Hospitals,
		departments: store.Departments,
		doctors:     store.Doctors,
		deps:        deps.withDefaults(),
	}
}

func (s *DoctorService) Create(ctx context.Context, req CreateDoctorRequest) (*storage.Doctor, error) {
	person, err := normalizePerson(req.PersonInput, s.deps.now())
	if err != nil {
		return nil, err
	}
	license := strings.ToUpper(strings.TrimSpace(req.License))
	if err := validateLicense(license); err != nil {
		return nil, err
	}
	specialty, err := ParseSpecialty(string(req.Specialty))
	if err != nil {
		return nil, err
	}

	doctor := &storage.Doctor{
		Person:    person,
		License:   license,
		Specialty: specialty,
	}
	if strings.TrimSpace(req.Department) != "" {
		department, err := s.compatibleDepartment(ctx, specialty, req.Hospital, req.Department)
		if err != nil {
			return nil, err
		}
		doctor.DepartmentID = department.ID
	}

	if err := s.doctors.Create(ctx, doctor); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: doctor with license %s or the same dni already exists", ErrDuplicate, license)
		}
		return nil, fmt.Errorf("create doctor: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionDoctorCreate,
		TargetType: "doctor",
		TargetID:   doctor.ID,
		Details:    doctorDetails{License: doctor.License, Specialty: string(doctor.Specialty)},
	})
	return doctor, nil
}

// AssignDepartment places the doctor in a department of matching specialty.
func (s *DoctorService) AssignDepartment(ctx context.Context, req AssignDepartmentRequest) (*storage.Doctor, error) {
	doctor, err := s.Get(ctx, req.License)
	if err != nil {
		return nil, err
	}
	department, err := s.compatibleDepartment(ctx, doctor.Specialty, req.Hospital, req.Department)
	if err != nil {
		return nil, err
	}

	if err := s.doctors.SetDepartment(ctx, doctor.ID, department.ID); err != nil {
		return nil, fmt.Errorf("assign department: %w", err)
	}
	doctor.DepartmentID = department.ID

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionDoctorAssign,
		TargetType: "doctor",
		TargetID:   doctor.ID,
		Details:    doctorDetails{License: doctor.License, Department: department.Name},
	})
	return doctor, nil
}

func (s *DoctorService) compatibleDepartment(ctx context.Context, specialty storage.Specialty, hospitalName, departmentName string) (*storage.Department, error) {
	department, err := lookupDepartment(ctx, s.hospitals, s.departments, hospitalName, departmentName)
	if err != nil {
		return nil, err
	}
	if department.Specialty != specialty {
		return nil, fmt.Errorf("%w: doctor specialty %s does not match department %q (%s)",
			ErrSpecialtyMismatch, specialty, department.Name, department.Specialty)
	}
	return department, nil
}

func (s *DoctorService) Get(ctx context.Context, license string) (*storage.Doctor, error) {
	license, err := requireKey("license", license)
	if err != nil {
		return nil, err
	}
	doctor, err := s.doctors.Get(ctx, strings.ToUpper(license))
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", license, err)
	}
	return doctor, nil
}

func (s *DoctorService) List(ctx context.Context, filter storage.DoctorFilter) ([]storage.Doctor, error) {
	if filter.Specialty != "" {
		specialty, err := ParseSpecialty(string(filter.Specialty))
		if err != nil {
			return nil, err
		}
		filter.Specialty = specialty
	}
	doctors, err := s.doctors.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// Delete soft-deletes the doctor and cancels their upcoming scheduled
// appointments. It returns the number of appointments cancelled.
func (s *DoctorService) Delete(ctx context.Context, license string) (int, error) {
	doctor, err := s.Get(ctx, license)
	if err != nil {
		return 0, err
	}
	cancelled, err := s.doctors.Delete(ctx, doctor.License, s.deps.now())
	if err != nil {
		return 0, fmt.Errorf("delete doctor %s: %w", doctor.License, err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionDoctorDelete,
		TargetType: "doctor",
		TargetID:   doctor.ID,
		Details:    doctorDetails{License: doctor.License, Cancelled: cancelled},
	})
	s.deps.Logger.InfoContext(ctx, "doctor removed", "doctor_id", doctor.ID, "cancelled_appointments", cancelled)
	return cancelled, nil
}

type doctorDetails struct {
	License    string `json:"license"`
	Specialty  string `json:"specialty,omitempty"`
	Department string `json:"department,omitempty"`
	Cancelled  int    `json:"cancelled_appointments,omitempty"`
}
