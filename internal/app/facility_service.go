package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
)

type HospitalService struct {
	hospitals storage.HospitalRepository
	deps      Deps
}

func NewHospitalService(hospitals storage.HospitalRepository, deps Deps) *HospitalService {
	return &HospitalService{hospitals: hospitals, deps: deps.withDefaults()}
}

func (s *HospitalService) Create(ctx context.Context, req CreateHospitalRequest) (*storage.Hospital, error) {
	name, err := requireKey("hospital name", req.Name)
	if err != nil {
		return nil, err
	}

	hospital := &storage.Hospital{
		Name:    name,
		Address: strings.TrimSpace(req.Address),
		Phone:   strings.TrimSpace(req.Phone),
	}
	if err := s.hospitals.Create(ctx, hospital); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: hospital %q already exists", ErrDuplicate, name)
		}
		return nil, fmt.Errorf("create hospital: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionHospitalCreate,
		TargetType: "hospital",
		TargetID:   hospital.ID,
		Details:    hospitalDetails{Name: hospital.Name},
	})
	return hospital, nil
}

func (s *HospitalService) Get(ctx context.Context, name string) (*storage.Hospital, error) {
	name, err := requireKey("hospital name", name)
	if err != nil {
		return nil, err
	}
	hospital, err := s.hospitals.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get hospital %q: %w", name, err)
	}
	return hospital, nil
}

func (s *HospitalService) List(ctx context.Context) ([]storage.Hospital, error) {
	hospitals, err := s.hospitals.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	return hospitals, nil
}

type DepartmentService struct {
	hospitals   storage.HospitalRepository
	departments storage.DepartmentRepository
	deps        Deps
}

func NewDepartmentService(hospitals storage.HospitalRepository, departments storage.DepartmentRepository, deps Deps) *DepartmentService {
	return &DepartmentService{hospitals: hospitals, departments: departments, deps: deps.withDefaults()}
}

func (s *DepartmentService) Create(ctx context.Context, req CreateDepartmentRequest) (*storage.Department, error) {
	hospitalName, err := requireKey("hospital name", req.Hospital)
	if err != nil {
		return nil, err
	}
	name, err := requireKey("department name", req.Name)
	if err != nil {
		return nil, err
	}
	specialty, err := ParseSpecialty(string(req.Specialty))
	if err != nil {
		return nil, err
	}

	hospital, err := s.hospitals.Get(ctx, hospitalName)
	if err != nil {
		return nil, fmt.Errorf("create department: hospital %q: %w", hospitalName, err)
	}

	department := &storage.Department{
		HospitalID: hospital.ID,
		Name:       name,
		Specialty:  specialty,
	}
	if err := s.departments.Create(ctx, department); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: department %q already exists in %q", ErrDuplicate, name, hospital.Name)
		}
		return nil, fmt.Errorf("create department: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionDepartmentCreate,
		TargetType: "department",
		TargetID:   department.ID,
		Details: departmentDetails{
			Hospital:  hospital.Name,
			Name:      department.Name,
			Specialty: string(department.Specialty),
		},
	})
	return department, nil
}

func (s *DepartmentService) Get(ctx context.Context, hospitalName, name string) (*storage.Department, error) {
	return lookupDepartment(ctx, s.hospitals, s.departments, hospitalName, name)
}

// List returns departments, optionally restricted to one hospital by name.
func (s *DepartmentService) List(ctx context.Context, hospitalName string, specialty storage.Specialty) ([]storage.Department, error) {
	filter := storage.DepartmentFilter{}
	if specialty != "" {
		parsed, err := ParseSpecialty(string(specialty))
		if err != nil {
			return nil, err
		}
		filter.Specialty = parsed
	}
	if hospitalName = strings.TrimSpace(hospitalName); hospitalName != "" {
		hospital, err := s.hospitals.Get(ctx, hospitalName)
		if err != nil {
			return nil, fmt.Errorf("list departments: hospital %q: %w", hospitalName, err)
		}
		filter.HospitalID = hospital.ID
	}
	departments, err := s.departments.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

type RoomService struct {
	hospitals   storage.HospitalRepository
	departments storage.DepartmentRepository
	rooms       storage.RoomRepository
	deps        Deps
}

func NewRoomService(hospitals storage.HospitalRepository, departments storage.DepartmentRepository, rooms storage.RoomRepository, deps Deps) *RoomService {
	return &RoomService{hospitals: hospitals, departments: departments, rooms: rooms, deps: deps.withDefaults()}
}

func (s *RoomService) Create(ctx context.Context, req CreateRoomRequest) (*storage.Room, error) {
	number, err := requireKey("room number", req.Number)
	if err != nil {
		return nil, err
	}
	department, err := lookupDepartment(ctx, s.hospitals, s.departments, req.Hospital, req.Department)
	if err != nil {
		return nil, err
	}

	room := &storage.Room{
		DepartmentID: department.ID,
		Number:       number,
		Kind:         strings.TrimSpace(req.Kind),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: room %q already exists", ErrDuplicate, number)
		}
		return nil, fmt.Errorf("create room: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionRoomCreate,
		TargetType: "room",
		TargetID:   room.ID,
		Details:    roomDetails{Number: room.Number, Department: department.Name},
	})
	return room, nil
}

func (s *RoomService) Get(ctx context.Context, number string) (*storage.Room, error) {
	number, err := requireKey("room number", number)
	if err != nil {
		return nil, err
	}
	room, err := s.rooms.Get(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get room %q: %w", number, err)
	}
	return room, nil
}

// List returns rooms, optionally restricted to one department.
func (s *RoomService) List(ctx context.Context, hospitalName, departmentName string) ([]storage.Room, error) {
	filter := storage.RoomFilter{}
	if strings.TrimSpace(departmentName) != "" {
		department, err := lookupDepartment(ctx, s.hospitals, s.departments, hospitalName, departmentName)
		if err != nil {
			return nil, err
		}
		filter.DepartmentID = department.ID
	}
	rooms, err := s.rooms.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func lookupDepartment(ctx context.Context, hospitals storage.HospitalRepository, departments storage.DepartmentRepository, hospitalName, name string) (*storage.Department, error) {
	hospitalName, err := requireKey("hospital name", hospitalName)
	if err != nil {
		return nil, err
	}
	name, err = requireKey("department name", name)
	if err != nil {
		return nil, err
	}

	hospital, err := hospitals.Get(ctx, hospitalName)
	if err != nil {
		return nil, fmt.Errorf("get hospital %q: %w", hospitalName, err)
	}
	department, err := departments.Get(ctx, hospital.ID, name)
	if err != nil {
		return nil, fmt.Errorf("get department %q: %w", name, err)
	}
	return department, nil
}

type hospitalDetails struct {
	Name string `json:"name"`
}

type departmentDetails struct {
	Hospital  string `json:"hospital"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type roomDetails struct {
	Number     string `json:"number"`
	Department string `json:"department"`
}
