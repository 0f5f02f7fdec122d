package httpapi

import (
	"net/http"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/go-chi/chi/v5"
)

const defaultListLimit = 500

func (a *API) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.svc.Appointments.Schedule(r.Context(), app.ScheduleRequest{
		PatientDNI:    body.PatientDNI,
		DoctorLicense: body.DoctorLicense,
		RoomNumber:    body.RoomNumber,
		At:            body.At,
		Cost:          body.Cost,
		Notes:         body.Notes,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentFrom(*view))
}

func (a *API) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), false)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), true)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	filter := storage.AppointmentFilter{From: from, To: to, Limit: limit}
	if raw := q.Get("status"); raw != "" {
		status, err := app.ParseAppointmentStatus(raw)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		filter.Status = status
	}

	views, err := a.svc.Appointments.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointmentsFrom(views)})
}

func (a *API) getAppointment(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Appointments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentFrom(*view))
}

func (a *API) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.svc.Appointments.UpdateStatus(r.Context(), chi.URLParam(r, "id"), storage.AppointmentStatus(body.Status))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentFrom(*view))
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTimeParam(q.Get("since"), false)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	until, err := parseTimeParam(q.Get("until"), true)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	events, err := a.audit.List(r.Context(), audit.Filter{
		Action:   q.Get("action"),
		TargetID: q.Get("target_id"),
		Since:    since,
		Until:    until,
		Limit:    limit,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) verifyAudit(w http.ResponseWriter, r *http.Request) {
	result, err := a.audit.Verify(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}
