package httpapi

import (
	"net/http"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/go-chi/chi/v5"
)

func (a *API) createDoctor(w http.ResponseWriter, r *http.Request) {
	var body doctorBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	person, err := body.input()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	doctor, err := a.svc.Doctors.Create(r.Context(), app.CreateDoctorRequest{
		PersonInput: person,
		License:     body.License,
		Specialty:   storage.Specialty(body.Specialty),
		Hospital:    body.Hospital,
		Department:  body.Department,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doctorFrom(*doctor, a.clock.Now()))
}

func (a *API) listDoctors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.DoctorFilter{Specialty: storage.Specialty(q.Get("specialty"))}
	if department := strings.TrimSpace(q.Get("department")); department != "" {
		dept, err := a.svc.Departments.Get(r.Context(), q.Get("hospital"), department)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		filter.DepartmentID = dept.ID
	}
	doctors, err := a.svc.Doctors.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	now := a.clock.Now()
	out := make([]doctorDTO, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, doctorFrom(d, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": out})
}

func (a *API) getDoctor(w http.ResponseWriter, r *http.Request) {
	doctor, err := a.svc.Doctors.Get(r.Context(), chi.URLParam(r, "license"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctorFrom(*doctor, a.clock.Now()))
}

func (a *API) assignDepartment(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	doctor, err := a.svc.Doctors.AssignDepartment(r.Context(), app.AssignDepartmentRequest{
		License:    chi.URLParam(r, "license"),
		Hospital:   body.Hospital,
		Department: body.Department,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctorFrom(*doctor, a.clock.Now()))
}

func (a *API) deleteDoctor(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.svc.Doctors.Delete(r.Context(), chi.URLParam(r, "license"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled_appointments": cancelled})
}

func (a *API) doctorAppointments(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Appointments.ForDoctor(r.Context(), chi.URLParam(r, "license"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointmentsFrom(views)})
}

func (a *API) createPatient(w http.ResponseWriter, r *http.Request) {
	var body patientBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	person, err := body.input()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	patient, record, err := a.svc.Patients.Create(r.Context(), app.CreatePatientRequest{
		PersonInput: person,
		Phone:       body.Phone,
		Address:     body.Address,
		Hospital:    body.Hospital,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"patient": patientFrom(*patient, a.clock.Now()),
		"record":  recordFrom(*record),
	})
}

func (a *API) listPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patients, err := a.svc.Patients.List(r.Context(), q.Get("hospital"), q.Get("q"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	now := a.clock.Now()
	out := make([]patientDTO, 0, len(patients))
	for _, p := range patients {
		out = append(out, patientFrom(p, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": out})
}

func (a *API) getPatient(w http.ResponseWriter, r *http.Request) {
	patient, err := a.svc.Patients.Get(r.Context(), chi.URLParam(r, "dni"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patientFrom(*patient, a.clock.Now()))
}

func (a *API) updatePatient(w http.ResponseWriter, r *http.Request) {
	var body app.UpdatePatientRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	body.DNI = chi.URLParam(r, "dni")
	patient, err := a.svc.Patients.Update(r.Context(), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patientFrom(*patient, a.clock.Now()))
}

func (a *API) deletePatient(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.svc.Patients.Delete(r.Context(), chi.URLParam(r, "dni"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled_appointments": cancelled})
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	record, err := a.svc.Patients.Record(r.Context(), chi.URLParam(r, "dni"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFrom(*record))
}

// addRecordEntry appends to the record; kind is diagnosis, treatment or
// allergy.
func (a *API) addRecordEntry(w http.ResponseWriter, r *http.Request) {
	kind, err := app.ParseRecordEntryKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var body entryBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	entry, err := a.svc.Patients.AddEntry(r.Context(), chi.URLParam(r, "dni"), kind, body.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entriesFrom([]storage.RecordEntry{*entry})[0])
}

func (a *API) patientAppointments(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Appointments.ForPatient(r.Context(), chi.URLParam(r, "dni"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointmentsFrom(views)})
}
