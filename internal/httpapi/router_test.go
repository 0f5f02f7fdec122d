package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var apiNow = time.Date(2030, time.March, 10, 8, 0, 0, 0, time.UTC)

type apiFixture struct {
	handler http.Handler
	clock   *clockwork.FakeClock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(apiNow)
	store, err := storage.Open(filepath.Join(t.TempDir(), "wardkeeper.db"), storage.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auditSvc, err := audit.NewService(store.Audit, clock)
	require.NoError(t, err)

	handler := NewRouter(Options{
		Services: app.NewServices(store, app.Deps{Clock: clock, Audit: auditSvc}),
		Audit:    auditSvc,
		Ready:    store.Ping,
		Clock:    clock,
	})
	return &apiFixture{handler: handler, clock: clock}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(actorHeader, "tester")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decodeBody[errorResponse](t, rec)
	require.Equal(t, code, resp.Error.Code)
	require.NotEmpty(t, resp.Error.Message)
	require.NotEmpty(t, resp.Error.RequestID)
}

// seedClinic registers one cardiology department with a room, a cardiologist
// and two patients.
func (f *apiFixture) seedClinic(t *testing.T) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/hospitals", map[string]string{"name": "Hospital Central", "address": "Av. Alem 456"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/departments", map[string]string{"hospital": "Hospital Central", "name": "Cardiología", "specialty": "cardiology"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/rooms", map[string]string{"hospital": "Hospital Central", "department": "Cardiología", "number": "C-101", "kind": "Consultorio"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/doctors", map[string]string{
		"first_name": "Juan", "last_name": "Perez", "dni": "12345678", "birth_date": "1980-05-15", "blood_type": "A+",
		"license": "MP-12345", "specialty": "cardiology", "hospital": "Hospital Central", "department": "Cardiología",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, p := range []map[string]string{
		{"first_name": "Maria", "last_name": "Lopez", "dni": "45678901"},
		{"first_name": "Carlos", "last_name": "Sanchez", "dni": "56789012"},
	} {
		p["birth_date"] = "1990-01-30"
		p["blood_type"] = "O+"
		p["phone"] = "261-111-2222"
		p["address"] = "Calle Falsa 123"
		rec = f.do(t, http.MethodPost, "/patients", p)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", decodeBody[map[string]string](t, rec)["status"])
}

func TestReadinessFailsWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewRouter(Options{Ready: func(context.Context) error { return errors.New("database is closed") }})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database is closed")
}

func TestCreateAndReadPatient(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)

	rec := f.do(t, http.MethodGet, "/patients/45678901", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	patient := decodeBody[patientDTO](t, rec)
	require.Equal(t, "Maria Lopez", patient.FullName)
	require.Equal(t, "1990-01-30", patient.BirthDate)
	require.Equal(t, 40, patient.Age)

	rec = f.do(t, http.MethodGet, "/patients/45678901/record", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decodeBody[recordDTO](t, rec)
	require.True(t, strings.HasPrefix(record.Number, "HC-45678901-"))
	require.Empty(t, record.Diagnoses)

	rec = f.do(t, http.MethodPost, "/patients/45678901/record/diagnosis", map[string]string{"text": "Hipertensión arterial"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/patients/45678901/record/surgery", map[string]string{"text": "Bypass"})
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodGet, "/patients/45678901/record", nil)
	record = decodeBody[recordDTO](t, rec)
	require.Len(t, record.Diagnoses, 1)
	require.Equal(t, "Hipertensión arterial", record.Diagnoses[0].Text)

	rec = f.do(t, http.MethodPatch, "/patients/45678901", map[string]string{"phone": "261-999-0000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "261-999-0000", decodeBody[patientDTO](t, rec).Phone)

	rec = f.do(t, http.MethodGet, "/patients?q=sanch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[map[string][]patientDTO](t, rec)["patients"]
	require.Len(t, listed, 1)
	require.Equal(t, "56789012", listed[0].DNI)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)

	rec := f.do(t, http.MethodPost, "/patients", map[string]string{
		"first_name": "Ana", "last_name": "Diaz", "dni": "12-34", "birth_date": "1990-01-30",
		"blood_type": "O+", "phone": "1", "address": "x",
	})
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodPost, "/hospitals", `{"name":"X","beds":10}`)
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodPost, "/hospitals", "")
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodPost, "/hospitals", map[string]string{"name": "Hospital Central"})
	requireError(t, rec, http.StatusConflict, codeDuplicate)

	rec = f.do(t, http.MethodGet, "/patients/99999999", nil)
	requireError(t, rec, http.StatusNotFound, codeNotFound)

	rec = f.do(t, http.MethodGet, "/doctors/MP-99999", nil)
	requireError(t, rec, http.StatusNotFound, codeNotFound)

	rec = f.do(t, http.MethodGet, "/nowhere", nil)
	requireError(t, rec, http.StatusNotFound, codeNotFound)

	rec = f.do(t, http.MethodPost, "/doctors", map[string]string{
		"first_name": "Luis", "last_name": "Martinez", "dni": "34567890", "birth_date": "1975-03-12", "blood_type": "B+",
		"license": "MP-67890", "specialty": "traumatology", "hospital": "Hospital Central", "department": "Cardiología",
	})
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)
}

func TestScheduleAppointmentFlow(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)
	at := apiNow.Add(48 * time.Hour)

	rec := f.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_dni": "45678901", "doctor_license": "MP-12345", "room_number": "C-101",
		"at": at.Format(time.RFC3339), "cost": "25000.50", "notes": "Control anual.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[appointmentDTO](t, rec)
	require.Equal(t, "scheduled", created.Status)
	require.Equal(t, "Juan Perez", created.DoctorName)
	require.True(t, created.At.Equal(at))

	rec = f.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_dni": "56789012", "doctor_license": "MP-12345", "room_number": "C-101",
		"at": at.Add(2 * time.Hour).Format(time.RFC3339), "cost": 18000,
	})
	requireError(t, rec, http.StatusConflict, codeDoctorUnavailable)

	rec = f.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_dni": "56789012", "doctor_license": "MP-12345", "room_number": "C-101",
		"at": apiNow.Add(-time.Hour).Format(time.RFC3339), "cost": 18000,
	})
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_dni": "56789012", "doctor_license": "MP-12345", "room_number": "C-101",
		"at": at.Add(5 * time.Hour).Format(time.RFC3339), "cost": "0",
	})
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodGet, "/appointments/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/patients/45678901/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]appointmentDTO](t, rec)["appointments"], 1)

	rec = f.do(t, http.MethodGet, "/doctors/MP-12345/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]appointmentDTO](t, rec)["appointments"], 1)

	day := at.Format(time.DateOnly)
	rec = f.do(t, http.MethodGet, "/appointments?from="+day+"&to="+day, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]appointmentDTO](t, rec)["appointments"], 1)

	rec = f.do(t, http.MethodGet, "/appointments?status=bogus", nil)
	requireError(t, rec, http.StatusUnprocessableEntity, codeValidation)

	rec = f.do(t, http.MethodPatch, "/appointments/"+created.ID+"/status", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "completed", decodeBody[appointmentDTO](t, rec).Status)

	rec = f.do(t, http.MethodPatch, "/appointments/"+created.ID+"/status", map[string]string{"status": "cancelled"})
	requireError(t, rec, http.StatusConflict, codeInvalidTransition)
}

func TestDeleteDoctorCancelsAppointments(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)

	rec := f.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_dni": "45678901", "doctor_license": "MP-12345", "room_number": "C-101",
		"at": apiNow.Add(24 * time.Hour).Format(time.RFC3339), "cost": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/doctors/MP-12345", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decodeBody[map[string]int](t, rec)["cancelled_appointments"])

	rec = f.do(t, http.MethodGet, "/doctors/MP-12345", nil)
	requireError(t, rec, http.StatusNotFound, codeNotFound)
}

func TestAuditEndpoints(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)

	rec := f.do(t, http.MethodGet, "/audit?action="+audit.ActionPatientCreate, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[map[string][]audit.RecordedEvent](t, rec)["events"]
	require.Len(t, events, 2)
	require.Equal(t, "api:tester", events[0].Actor)

	rec = f.do(t, http.MethodGet, "/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[audit.VerifyResult](t, rec)
	require.True(t, result.Valid)
	require.Greater(t, result.EventCount, 5)
}

func TestMetricsEndpointReportsRoutes(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.seedClinic(t)
	_ = f.do(t, http.MethodGet, "/hospitals/Hospital%20Central", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "wardkeeper_http_requests_total")
	require.Contains(t, body, `route="/hospitals/{name}"`)
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(correlationHeader, "abc12345")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, "abc12345", rec.Header().Get(correlationHeader))

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	require.Len(t, rec.Header().Get(correlationHeader), 8)
}

func TestServerShutsDownWithContext(t *testing.T) {
	t.Parallel()

	srv := NewServer(NewRouter(Options{}), ServerOptions{
		Listen:            "127.0.0.1:0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
