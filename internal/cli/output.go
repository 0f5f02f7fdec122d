package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
)

const displayTimeLayout = "2006-01-02 15:04"

type hospitalOutput struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type departmentOutput struct {
	ID         string `json:"id"`
	HospitalID string `json:"hospital_id"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty"`
}

type roomOutput struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Number       string `json:"number"`
	Kind         string `json:"kind,omitempty"`
}

type personOutput struct {
	FullName  string `json:"full_name"`
	DNI       string `json:"dni"`
	BirthDate string `json:"birth_date"`
	Age       int    `json:"age"`
	BloodType string `json:"blood_type"`
}

type doctorOutput struct {
	ID string `json:"id"`
	personOutput
	License      string `json:"license"`
	Specialty    string `json:"specialty"`
	DepartmentID string `json:"department_id,omitempty"`
}

type patientOutput struct {
	ID string `json:"id"`
	personOutput
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	HospitalID string `json:"hospital_id,omitempty"`
}

type entryOutput struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type recordOutput struct {
	Number     string        `json:"number"`
	CreatedAt  time.Time     `json:"created_at"`
	Diagnoses  []entryOutput `json:"diagnoses"`
	Treatments []entryOutput `json:"treatments"`
	Allergies  []entryOutput `json:"allergies"`
}

type appointmentOutput struct {
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
}

func toHospitalOutput(h storage.Hospital) hospitalOutput {
	return hospitalOutput{ID: h.ID, Name: h.Name, Address: h.Address, Phone: h.Phone}
}

func toDepartmentOutput(d storage.Department) departmentOutput {
	return departmentOutput{ID: d.ID, HospitalID: d.HospitalID, Name: d.Name, Specialty: string(d.Specialty)}
}

func toRoomOutput(r storage.Room) roomOutput {
	return roomOutput{ID: r.ID, DepartmentID: r.DepartmentID, Number: r.Number, Kind: r.Kind}
}

func toPersonOutput(p storage.Person, now time.Time) personOutput {
	return personOutput{
		FullName:  p.FullName(),
		DNI:       p.DNI,
		BirthDate: p.BirthDate.Format(time.DateOnly),
		Age:       p.Age(now),
		BloodType: string(p.BloodType),
	}
}

func toDoctorOutput(d storage.Doctor, now time.Time) doctorOutput {
	return doctorOutput{
		ID:           d.ID,
		personOutput: toPersonOutput(d.Person, now),
		License:      d.License,
		Specialty:    string(d.Specialty),
		DepartmentID: d.DepartmentID,
	}
}

func toPatientOutput(p storage.Patient, now time.Time) patientOutput {
	return patientOutput{
		ID:           p.ID,
		personOutput: toPersonOutput(p.Person, now),
		Phone:        p.Phone,
		Address:      p.Address,
		HospitalID:   p.HospitalID,
	}
}

func toEntryOutputs(entries []storage.RecordEntry) []entryOutput {
	out := make([]entryOutput, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryOutput{ID: e.ID, Kind: string(e.Kind), Text: e.Text, CreatedAt: e.CreatedAt})
	}
	return out
}

func toRecordOutput(r storage.MedicalRecord) recordOutput {
	return recordOutput{
		Number:     r.Number,
		CreatedAt:  r.CreatedAt,
		Diagnoses:  toEntryOutputs(r.Diagnoses),
		Treatments: toEntryOutputs(r.Treatments),
		Allergies:  toEntryOutputs(r.Allergies),
	}
}

func toAppointmentOutputs(views []app.AppointmentView) []appointmentOutput {
	out := make([]appointmentOutput, 0, len(views))
	for _, v := range views {
		out = append(out, appointmentOutput{
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
		})
	}
	return out
}

func printAppointments(deps commandDeps, views []app.AppointmentView) error {
	if deps.globals.JSON {
		return printJSON(deps.out, toAppointmentOutputs(views))
	}
	if deps.globals.Quiet {
		return nil
	}
	colors := newPalette(deps.globals)
	for _, v := range views {
		if err := printAppointmentLine(deps.out, colors, v); err != nil {
			return err
		}
	}
	return nil
}

func printAppointmentLine(w io.Writer, colors palette, v app.AppointmentView) error {
	_, err := fmt.Fprintf(
		w,
		"%s %s %s patient=%s doctor=%s room=%s cost=%s\n",
		v.ID,
		v.At.UTC().Format(displayTimeLayout),
		colors.status(v.Status),
		v.PatientDNI,
		v.DoctorLicense,
		v.RoomNumber,
		v.Cost.StringFixed(2),
	)
	return err
}

func printEntries(w io.Writer, title string, entries []storage.RecordEntry) error {
	if _, err := fmt.Fprintf(w, "%s (%d)\n", title, len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "  %s  %s\n", e.CreatedAt.UTC().Format(displayTimeLayout), e.Text); err != nil {
			return err
		}
	}
	return nil
}
