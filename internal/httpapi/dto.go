package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
)

const maxRequestBody = 1 << 20

type hospitalDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func hospitalFrom(h storage.Hospital) hospitalDTO {
	return hospitalDTO{ID: h.ID, Name: h.Name, Address: h.Address, Phone: h.Phone, CreatedAt: h.CreatedAt}
}

type departmentDTO struct {
	ID         string `json:"id"`
	HospitalID string `json:"hospital_id"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty"`
}

func departmentFrom(d storage.Department) departmentDTO {
	return departmentDTO{ID: d.ID, HospitalID: d.HospitalID, Name: d.Name, Specialty: string(d.Specialty)}
}

type roomDTO struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Number       string `json:"number"`
	Kind         string `json:"kind,omitempty"`
}

func roomFrom(r storage.Room) roomDTO {
	return roomDTO{ID: r.ID, DepartmentID: r.DepartmentID, Number: r.Number, Kind: r.Kind}
}

type personDTO struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	DNI       string `json:"dni"`
	BirthDate string `json:"birth_date"`
	Age       int    `json:"age"`
	BloodType string `json:"blood_type"`
}

func personFrom(p storage.Person, now time.Time) personDTO {
	return personDTO{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		FullName:  p.FullName(),
		DNI:       p.DNI,
		BirthDate: p.BirthDate.Format(time.DateOnly),
		Age:       p.Age(now),
		BloodType: string(p.BloodType),
	}
}

type doctorDTO struct {
	ID string `json:"id"`
	personDTO
	License      string `json:"license"`
	Specialty    string `json:"specialty"`
	DepartmentID string `json:"department_id,omitempty"`
}

func doctorFrom(d storage.Doctor, now time.Time) doctorDTO {
	return doctorDTO{
		ID:           d.ID,
		personDTO:    personFrom(d.Person, now),
		License:      d.License,
		Specialty:    string(d.Specialty),
		DepartmentID: d.DepartmentID,
	}
}

type patientDTO struct {
	ID string `json:"id"`
	personDTO
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	HospitalID string `json:"hospital_id,omitempty"`
}

func patientFrom(p storage.Patient, now time.Time) patientDTO {
	return patientDTO{
		ID:         p.ID,
		personDTO:  personFrom(p.Person, now),
		Phone:      p.Phone,
		Address:    p.Address,
		HospitalID: p.HospitalID,
	}
}

type recordEntryDTO struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func entriesFrom(entries []storage.RecordEntry) []recordEntryDTO {
	out := make([]recordEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, recordEntryDTO{ID: e.ID, Kind: string(e.Kind), Text: e.Text, CreatedAt: e.CreatedAt})
	}
	return out
}

type recordDTO struct {
	ID         string           `json:"id"`
	Number     string           `json:"number"`
	CreatedAt  time.Time        `json:"created_at"`
	Diagnoses  []recordEntryDTO `json:"diagnoses"`
	Treatments []recordEntryDTO `json:"treatments"`
	Allergies  []recordEntryDTO `json:"allergies"`
}

func recordFrom(r storage.MedicalRecord) recordDTO {
	return recordDTO{
		ID:         r.ID,
		Number:     r.Number,
		CreatedAt:  r.CreatedAt,
		Diagnoses:  entriesFrom(r.Diagnoses),
		Treatments: entriesFrom(r.Treatments),
		Allergies:  entriesFrom(r.Allergies),
	}
}

type appointmentDTO struct {
	ID            string          `json:"id"`
	At            time.Time       `json:"at"`
	Status        string          `json:"status"`
	Cost          decimal.Decimal `json:"cost"`
	Notes         string          `json:"notes,omitempty"`
	PatientName   string          `json:"patient_name"`
	PatientDNI    string          `json:"patient_dni"`
	DoctorName    string          `json:"doctor_name"`
	DoctorLicense string          `json:"doctor_license"`
	RoomNumber    string          `json:"room_number"`
	CreatedAt     time.Time       `json:"created_at"`
}

func appointmentFrom(v app.AppointmentView) appointmentDTO {
	return appointmentDTO{
		ID:            v.ID,
		At:            v.At,
		Status:        string(v.Status),
		Cost:          v.Cost,
		Notes:         v.Notes,
		PatientName:   v.PatientName,
		PatientDNI:    v.PatientDNI,
		DoctorName:    v.DoctorName,
		DoctorLicense: v.DoctorLicense,
		RoomNumber:    v.RoomNumber,
		CreatedAt:     v.CreatedAt,
	}
}

func appointmentsFrom(views []app.AppointmentView) []appointmentDTO {
	out := make([]appointmentDTO, 0, len(views))
	for _, v := range views {
		out = append(out, appointmentFrom(v))
	}
	return out
}

// personBody is the request shape for people; birth_date is YYYY-MM-DD.
type personBody struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DNI       string `json:"dni"`
	BirthDate string `json:"birth_date"`
	BloodType string `json:"blood_type"`
}

func (p personBody) input() (app.PersonInput, error) {
	birth, err := app.ParseDate(p.BirthDate)
	if err != nil {
		return app.PersonInput{}, err
	}
	return app.PersonInput{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		DNI:       p.DNI,
		BirthDate: birth,
		BloodType: storage.BloodType(p.BloodType),
	}, nil
}

type doctorBody struct {
	personBody
	License    string `json:"license"`
	Specialty  string `json:"specialty"`
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
}

type patientBody struct {
	personBody
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Hospital string `json:"hospital"`
}

type assignBody struct {
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
}

type entryBody struct {
	Text string `json:"text"`
}

type statusBody struct {
	Status string `json:"status"`
}

type scheduleBody struct {
	PatientDNI    string          `json:"patient_dni"`
	DoctorLicense string          `json:"doctor_license"`
	RoomNumber    string          `json:"room_number"`
	At            time.Time       `json:"at"`
	Cost          decimal.Decimal `json:"cost"`
	Notes         string          `json:"notes"`
}

// decodeJSON reads a single JSON object, rejecting unknown fields. Decode
// failures wrap app.ErrValidation.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", app.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body: %v", app.ErrValidation, err)
	}
	return nil
}

// parseTimeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates. A date used
// as an upper bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := app.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", app.ErrValidation)
	}
	return limit, nil
}
