package app

import (
	"fmt"
	"path/filepath"

	"github.com/amanthanvi/wardkeeper/internal/storage"
)

// Services bundles every application service over one store.
type Services struct {
	Hospitals    *HospitalService
	Departments  *DepartmentService
	Rooms        *RoomService
	Doctors      *DoctorService
	Patients     *PatientService
	Appointments *AppointmentService
	Seed         *SeedService
	Export       *ExportService
	Backup       *BackupService
}

func NewServices(store *storage.Store, deps Deps) *Services {
	deps = deps.withDefaults()

	hospitals := NewHospitalService(store.Hospitals, deps)
	departments := NewDepartmentService(store.Hospitals, store.Departments, deps)
	rooms := NewRoomService(store.Hospitals, store.Departments, store.Rooms, deps)
	doctors := NewDoctorService(store, deps)
	patients := NewPatientService(store, deps)
	appointments := NewAppointmentService(store, deps)

	return &Services{
		Hospitals:    hospitals,
		Departments:  departments,
		Rooms:        rooms,
		Doctors:      doctors,
		Patients:     patients,
		Appointments: appointments,
		Seed:         NewSeedService(hospitals, departments, rooms, doctors, patients, appointments, deps),
		Export:       NewExportService(appointments, deps),
		Backup:       NewBackupService(store, deps),
	}
}

// BootstrapDatabase creates the database file and applies migrations.
func BootstrapDatabase(path string, opts storage.Options) error {
	if path == "" {
		return fmt.Errorf("%w: database path is required", ErrValidation)
	}
	store, err := storage.Open(filepath.Clean(path), opts)
	if err != nil {
		return fmt.Errorf("bootstrap database: open store: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("bootstrap database: close store: %w", err)
	}
	return nil
}
