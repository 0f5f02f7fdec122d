package httpapi

import (
	"net/http"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/go-chi/chi/v5"
)

func (a *API) createHospital(w http.ResponseWriter, r *http.Request) {
	var body app.CreateHospitalRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	hospital, err := a.svc.Hospitals.Create(r.Context(), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hospitalFrom(*hospital))
}

func (a *API) listHospitals(w http.ResponseWriter, r *http.Request) {
	hospitals, err := a.svc.Hospitals.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]hospitalDTO, 0, len(hospitals))
	for _, h := range hospitals {
		out = append(out, hospitalFrom(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"hospitals": out})
}

func (a *API) getHospital(w http.ResponseWriter, r *http.Request) {
	hospital, err := a.svc.Hospitals.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hospitalFrom(*hospital))
}

func (a *API) createDepartment(w http.ResponseWriter, r *http.Request) {
	var body app.CreateDepartmentRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	department, err := a.svc.Departments.Create(r.Context(), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, departmentFrom(*department))
}

func (a *API) listDepartments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	departments, err := a.svc.Departments.List(r.Context(), q.Get("hospital"), storage.Specialty(q.Get("specialty")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]departmentDTO, 0, len(departments))
	for _, d := range departments {
		out = append(out, departmentFrom(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": out})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var body app.CreateRoomRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	room, err := a.svc.Rooms.Create(r.Context(), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomFrom(*room))
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rooms, err := a.svc.Rooms.List(r.Context(), q.Get("hospital"), q.Get("department"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, roomFrom(room))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}
