package app

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/storage"
)

var (
	dniPattern     = regexp.MustCompile(`^\d{7,8}$`)
	licensePattern = regexp.MustCompile(`^MP-\d{4,6}$`)
)

func normalizePerson(in PersonInput, now time.Time) (storage.Person, error) {
	person := storage.Person{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		DNI:       strings.TrimSpace(in.DNI),
		BloodType: storage.BloodType(strings.ToUpper(strings.TrimSpace(string(in.BloodType)))),
	}
	if person.FirstName == "" {
		return storage.Person{}, fmt.Errorf("%w: first name is required", ErrValidation)
	}
	if person.LastName == "" {
		return storage.Person{}, fmt.Errorf("%w: last name is required", ErrValidation)
	}
	if err := validateDNI(person.DNI); err != nil {
		return storage.Person{}, err
	}
	if in.BirthDate.IsZero() {
		return storage.Person{}, fmt.Errorf("%w: birth date is required", ErrValidation)
	}
	birth := time.Date(in.BirthDate.Year(), in.BirthDate.Month(), in.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
	if birth.After(now) {
		return storage.Person{}, fmt.Errorf("%w: birth date %s is in the future", ErrValidation, birth.Format(time.DateOnly))
	}
	person.BirthDate = birth
	if err := validateBloodType(person.BloodType); err != nil {
		return storage.Person{}, err
	}
	return person, nil
}

func validateDNI(dni string) error {
	if !dniPattern.MatchString(dni) {
		return fmt.Errorf("%w: dni must be 7 or 8 digits", ErrValidation)
	}
	return nil
}

func validateLicense(license string) error {
	if !licensePattern.MatchString(license) {
		return fmt.Errorf("%w: license %q must look like MP-12345", ErrValidation, license)
	}
	return nil
}

// ParseSpecialty accepts the canonical name case-insensitively.
func ParseSpecialty(raw string) (storage.Specialty, error) {
	specialty := storage.Specialty(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(storage.AllSpecialties, specialty) {
		return "", fmt.Errorf("%w: unknown specialty %q", ErrValidation, raw)
	}
	return specialty, nil
}

func validateBloodType(bloodType storage.BloodType) error {
	if !slices.Contains(storage.AllBloodTypes, bloodType) {
		return fmt.Errorf("%w: unknown blood type %q", ErrValidation, bloodType)
	}
	return nil
}

func ParseAppointmentStatus(raw string) (storage.AppointmentStatus, error) {
	status := storage.AppointmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case storage.AppointmentScheduled,
		storage.AppointmentInProgress,
		storage.AppointmentCompleted,
		storage.AppointmentCancelled,
		storage.AppointmentNoShow:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown appointment status %q", ErrValidation, raw)
	}
}

func ParseRecordEntryKind(raw string) (storage.RecordEntryKind, error) {
	kind := storage.RecordEntryKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case storage.RecordEntryDiagnosis, storage.RecordEntryTreatment, storage.RecordEntryAllergy:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown record entry kind %q", ErrValidation, raw)
	}
}

// ParseDate reads a calendar date in YYYY-MM-DD form.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", ErrValidation, raw)
	}
	return t, nil
}

var allowedTransitions = map[storage.AppointmentStatus][]storage.AppointmentStatus{
	storage.AppointmentScheduled: {
		storage.AppointmentInProgress,
		storage.AppointmentCompleted,
		storage.AppointmentCancelled,
		storage.AppointmentNoShow,
	},
	storage.AppointmentInProgress: {
		storage.AppointmentCompleted,
		storage.AppointmentCancelled,
	},
}

func canTransition(from, to storage.AppointmentStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

func requireKey(label, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, label)
	}
	return value, nil
}
