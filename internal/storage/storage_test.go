package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRunMigrationsAppliesAllSequentially(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	defer closeNoErr(t, db)

	err := RunMigrations(db, DefaultMigrations())
	require.NoError(t, err)

	require.Equal(t, CurrentSchemaVersion(), mustSchemaVersion(t, db))

	expected := []string{
		"meta",
		"schema_migrations",
		"hospitals",
		"departments",
		"rooms",
		"doctors",
		"patients",
		"medical_records",
		"record_entries",
		"appointments",
		"audit_events",
	}
	for _, table := range expected {
		require.Truef(t, tableExists(t, db, table), "expected table %s to exist", table)
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	defer closeNoErr(t, db)

	require.NoError(t, RunMigrations(db, DefaultMigrations()))
	require.NoError(t, RunMigrations(db, DefaultMigrations()))
	require.Equal(t, CurrentSchemaVersion(), mustSchemaVersion(t, db))
}

func TestRunMigrationsIsAtomic(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	defer closeNoErr(t, db)

	migrations := []Migration{
		{
			Version:     1,
			Description: "create a",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE test_a (id TEXT PRIMARY KEY)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create b then fail",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`CREATE TABLE test_b (id TEXT PRIMARY KEY)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	err := RunMigrations(db, migrations)
	require.Error(t, err)
	require.Equal(t, 1, mustSchemaVersion(t, db))
	require.True(t, tableExists(t, db, "test_a"))
	require.False(t, tableExists(t, db, "test_b"))
}

func TestOpenRefusesNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wardkeeper.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, DefaultMigrations()))
	_, err = db.Exec(`UPDATE meta SET value = ? WHERE key = 'schema_version'`, CurrentSchemaVersion()+1)
	require.NoError(t, err)
	closeNoErr(t, db)

	store, err := Open(path, Options{})
	if store != nil {
		t.Cleanup(func() { _ = store.Close() })
	}
	require.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestHospitalDepartmentRoomCRUD(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	hospital := &Hospital{Name: "Hospital Central", Address: "Av. Libertador 1000", Phone: "011-4444-5555"}
	require.NoError(t, store.Hospitals.Create(ctx, hospital))
	require.NotEmpty(t, hospital.ID)

	loaded, err := store.Hospitals.Get(ctx, "Hospital Central")
	require.NoError(t, err)
	require.Equal(t, hospital.ID, loaded.ID)
	require.Equal(t, "011-4444-5555", loaded.Phone)

	department := &Department{HospitalID: hospital.ID, Name: "Cardiología", Specialty: SpecialtyCardiology}
	require.NoError(t, store.Departments.Create(ctx, department))

	gotDepartment, err := store.Departments.Get(ctx, hospital.ID, "Cardiología")
	require.NoError(t, err)
	require.Equal(t, SpecialtyCardiology, gotDepartment.Specialty)

	room := &Room{DepartmentID: department.ID, Number: "CAR-101", Kind: "consulting room"}
	require.NoError(t, store.Rooms.Create(ctx, room))

	rooms, err := store.Rooms.List(ctx, RoomFilter{DepartmentID: department.ID})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "CAR-101", rooms[0].Number)

	_, err = store.Rooms.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueViolationsMapToConflict(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Hospitals.Create(ctx, &Hospital{Name: "dup"}))
	err := store.Hospitals.Create(ctx, &Hospital{Name: "dup"})
	require.ErrorIs(t, err, ErrConflict)

	fx := newSchedulingFixture(t, store)
	err = store.Rooms.Create(ctx, &Room{DepartmentID: fx.room.DepartmentID, Number: fx.room.Number})
	require.ErrorIs(t, err, ErrConflict)

	dupDoctor := testDoctor("87654321", fx.doctor.License)
	err = store.Doctors.Create(ctx, dupDoctor)
	require.ErrorIs(t, err, ErrConflict)

	dupPatient := testPatient(fx.patient.DNI)
	err = store.Patients.Create(ctx, dupPatient, &MedicalRecord{Number: "HC-dup"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestPatientCreateAddsMedicalRecordAtomically(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	patient := testPatient("30111222")
	record := &MedicalRecord{Number: "HC-30111222-1"}
	require.NoError(t, store.Patients.Create(ctx, patient, record))
	require.Equal(t, patient.ID, record.PatientID)

	loaded, err := store.Records.GetByPatientID(ctx, patient.ID)
	require.NoError(t, err)
	require.Equal(t, "HC-30111222-1", loaded.Number)
	require.Empty(t, loaded.Diagnoses)

	// A record number collision must leave no orphan patient behind.
	other := testPatient("30111223")
	err = store.Patients.Create(ctx, other, &MedicalRecord{Number: "HC-30111222-1"})
	require.ErrorIs(t, err, ErrConflict)

	_, err = store.Patients.Get(ctx, "30111223")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEntriesGroupedByKindInInsertionOrder(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	patient := testPatient("30111224")
	record := &MedicalRecord{Number: "HC-30111224-1"}
	require.NoError(t, store.Patients.Create(ctx, patient, record))

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []RecordEntry{
		{Kind: RecordEntryDiagnosis, Text: "Hipertensión arterial", CreatedAt: base},
		{Kind: RecordEntryAllergy, Text: "Penicilina", CreatedAt: base.Add(time.Minute)},
		{Kind: RecordEntryTreatment, Text: "Enalapril 10mg", CreatedAt: base.Add(2 * time.Minute)},
		{Kind: RecordEntryDiagnosis, Text: "Dislipemia", CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range entries {
		require.NoError(t, store.Records.AddEntry(ctx, record.ID, &entries[i]))
	}

	loaded, err := store.Records.GetByPatientID(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Diagnoses, 2)
	require.Equal(t, "Hipertensión arterial", loaded.Diagnoses[0].Text)
	require.Equal(t, "Dislipemia", loaded.Diagnoses[1].Text)
	require.Len(t, loaded.Treatments, 1)
	require.Len(t, loaded.Allergies, 1)

	err = store.Records.AddEntry(ctx, record.ID, &RecordEntry{Kind: "surgery", Text: "x"})
	require.Error(t, err)
}

func TestPatientUpdateAndSoftDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	patient := testPatient("30111225")
	require.NoError(t, store.Patients.Create(ctx, patient, &MedicalRecord{Number: "HC-30111225-1"}))

	patient.Phone = "011-9999-0000"
	require.NoError(t, store.Patients.Update(ctx, patient))

	loaded, err := store.Patients.Get(ctx, "30111225")
	require.NoError(t, err)
	require.Equal(t, "011-9999-0000", loaded.Phone)

	cancelled, err := store.Patients.Delete(ctx, "30111225", time.Now())
	require.NoError(t, err)
	require.Zero(t, cancelled)

	_, err = store.Patients.Get(ctx, "30111225")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := store.Patients.List(ctx, PatientFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	// The DNI is free again once the previous holder is deleted.
	again := testPatient("30111225")
	require.NoError(t, store.Patients.Create(ctx, again, &MedicalRecord{Number: "HC-30111225-2"}))

	_, err = store.Patients.Delete(ctx, "nobody", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPatientListSearch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ana := testPatient("30111226")
	ana.FirstName, ana.LastName = "Ana", "García"
	require.NoError(t, store.Patients.Create(ctx, ana, &MedicalRecord{Number: "HC-a"}))

	luis := testPatient("30111227")
	luis.FirstName, luis.LastName = "Luis", "Martínez"
	require.NoError(t, store.Patients.Create(ctx, luis, &MedicalRecord{Number: "HC-b"}))

	found, err := store.Patients.List(ctx, PatientFilter{Search: "luis"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "30111227", found[0].DNI)

	found, err = store.Patients.List(ctx, PatientFilter{Search: "3011122"})
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestPatientListSearchTreatsWildcardsLiterally(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	plain := testPatient("30111228")
	plain.FirstName, plain.LastName = "Marta", "Sosa"
	require.NoError(t, store.Patients.Create(ctx, plain, &MedicalRecord{Number: "HC-c"}))

	odd := testPatient("30111229")
	odd.FirstName, odd.LastName = "Jo_se", "100%"
	require.NoError(t, store.Patients.Create(ctx, odd, &MedicalRecord{Number: "HC-d"}))

	for _, search := range []string{"%", "_", "o_s", "0%"} {
		found, err := store.Patients.List(ctx, PatientFilter{Search: search})
		require.NoError(t, err, search)
		require.Len(t, found, 1, search)
		require.Equal(t, "30111229", found[0].DNI, search)
	}

	found, err := store.Patients.List(ctx, PatientFilter{Search: `\`})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCreateIfAvailableRejectsDoctorWithinBuffer(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	at := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, fx.appointment(at), 2*time.Hour))

	otherRoom := &Room{DepartmentID: fx.room.DepartmentID, Number: "CAR-102"}
	require.NoError(t, store.Rooms.Create(ctx, otherRoom))

	appt := fx.appointment(at.Add(2 * time.Hour))
	appt.RoomID = otherRoom.ID
	err := store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour)
	require.ErrorIs(t, err, ErrDoctorBusy)

	appt = fx.appointment(at.Add(2*time.Hour + time.Second))
	appt.RoomID = otherRoom.ID
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour))
}

func TestCreateIfAvailableRejectsRoomWithinBuffer(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	at := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, fx.appointment(at), 2*time.Hour))

	otherDoctor := testDoctor("22333444", "MP-5678")
	otherDoctor.DepartmentID = fx.room.DepartmentID
	require.NoError(t, store.Doctors.Create(ctx, otherDoctor))

	appt := fx.appointment(at.Add(-90 * time.Minute))
	appt.DoctorID = otherDoctor.ID
	err := store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour)
	require.ErrorIs(t, err, ErrRoomBusy)
}

func TestCreateIfAvailableIgnoresCancelledAppointments(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	at := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	first := fx.appointment(at)
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, first, 2*time.Hour))
	require.NoError(t, store.Appointments.UpdateStatus(ctx, first.ID, AppointmentScheduled, AppointmentCancelled))

	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, fx.appointment(at), 2*time.Hour))
}

func TestCreateIfAvailableSerializesConcurrentBookings(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	at := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

	const bookers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		busy      int
		other     []error
	)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			err := store.Appointments.CreateIfAvailable(ctx, fx.appointment(at.Add(time.Duration(offset)*time.Minute)), 2*time.Hour)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDoctorBusy):
				busy++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 1, succeeded)
	require.Equal(t, bookers-1, busy)
}

func TestAppointmentListingOrder(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	base := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{48 * time.Hour, 0, 24 * time.Hour} {
		require.NoError(t, store.Appointments.CreateIfAvailable(ctx, fx.appointment(base.Add(offset)), 2*time.Hour))
	}

	byPatient, err := store.Appointments.ListByPatient(ctx, fx.patient.ID)
	require.NoError(t, err)
	require.Len(t, byPatient, 3)
	require.True(t, byPatient[0].At.After(byPatient[1].At))
	require.True(t, byPatient[1].At.After(byPatient[2].At))

	byDoctor, err := store.Appointments.ListByDoctor(ctx, fx.doctor.ID)
	require.NoError(t, err)
	require.Len(t, byDoctor, 3)
	require.True(t, byDoctor[0].At.Before(byDoctor[1].At))
	require.True(t, byDoctor[1].At.Before(byDoctor[2].At))

	from := base.Add(12 * time.Hour)
	ranged, err := store.Appointments.List(ctx, AppointmentFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
}

func TestAppointmentCostRoundTripsExactly(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	appt := fx.appointment(time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC))
	appt.Cost = decimal.RequireFromString("15000.50")
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour))

	loaded, err := store.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.True(t, loaded.Cost.Equal(decimal.RequireFromString("15000.5")))
	require.True(t, loaded.At.Equal(appt.At))
	require.Equal(t, AppointmentScheduled, loaded.Status)
}

func TestUpdateStatusRequiresExpectedCurrentStatus(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	appt := fx.appointment(time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour))

	require.NoError(t, store.Appointments.UpdateStatus(ctx, appt.ID, AppointmentScheduled, AppointmentCompleted))
	err := store.Appointments.UpdateStatus(ctx, appt.ID, AppointmentScheduled, AppointmentCancelled)
	require.ErrorIs(t, err, ErrConflict)

	err = store.Appointments.UpdateStatus(ctx, "missing", AppointmentScheduled, AppointmentCancelled)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListStaleReturnsOnlyPastScheduled(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	base := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)
	past := fx.appointment(base)
	done := fx.appointment(base.Add(24 * time.Hour))
	future := fx.appointment(base.Add(72 * time.Hour))
	for _, appt := range []*Appointment{past, done, future} {
		require.NoError(t, store.Appointments.CreateIfAvailable(ctx, appt, 2*time.Hour))
	}
	require.NoError(t, store.Appointments.UpdateStatus(ctx, done.ID, AppointmentScheduled, AppointmentCompleted))

	stale, err := store.Appointments.ListStale(ctx, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, past.ID, stale[0].ID)
}

func TestDoctorDeleteCancelsFutureScheduledAppointments(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	cutoff := time.Date(2030, 6, 2, 0, 0, 0, 0, time.UTC)
	before := fx.appointment(cutoff.Add(-24 * time.Hour))
	after := fx.appointment(cutoff.Add(24 * time.Hour))
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, before, 2*time.Hour))
	require.NoError(t, store.Appointments.CreateIfAvailable(ctx, after, 2*time.Hour))

	cancelled, err := store.Doctors.Delete(ctx, fx.doctor.License, cutoff)
	require.NoError(t, err)
	require.Equal(t, 1, cancelled)

	loadedBefore, err := store.Appointments.Get(ctx, before.ID)
	require.NoError(t, err)
	require.Equal(t, AppointmentScheduled, loadedBefore.Status)

	loadedAfter, err := store.Appointments.Get(ctx, after.ID)
	require.NoError(t, err)
	require.Equal(t, AppointmentCancelled, loadedAfter.Status)

	_, err = store.Doctors.Get(ctx, fx.doctor.License)
	require.ErrorIs(t, err, ErrNotFound)

	byID, err := store.Doctors.GetByID(ctx, fx.doctor.ID)
	require.NoError(t, err)
	require.NotNil(t, byID.DeletedAt)
}

func TestDoctorSetDepartmentAndFilter(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	fx := newSchedulingFixture(t, store)

	loose := testDoctor("22333445", "MP-9999")
	loose.DepartmentID = ""
	require.NoError(t, store.Doctors.Create(ctx, loose))

	inDepartment, err := store.Doctors.List(ctx, DoctorFilter{DepartmentID: fx.room.DepartmentID})
	require.NoError(t, err)
	require.Len(t, inDepartment, 1)

	require.NoError(t, store.Doctors.SetDepartment(ctx, loose.ID, fx.room.DepartmentID))

	inDepartment, err = store.Doctors.List(ctx, DoctorFilter{DepartmentID: fx.room.DepartmentID})
	require.NoError(t, err)
	require.Len(t, inDepartment, 2)

	cardiologists, err := store.Doctors.List(ctx, DoctorFilter{Specialty: SpecialtyCardiology})
	require.NoError(t, err)
	require.Len(t, cardiologists, 2)

	require.ErrorIs(t, store.Doctors.SetDepartment(ctx, "missing", fx.room.DepartmentID), ErrNotFound)
}

func TestAuditAppendLinksToStoredTip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	tip, err := store.Audit.ChainTip(ctx)
	require.NoError(t, err)
	require.Empty(t, tip)

	var seen []string
	link := func(hash string) ChainLink {
		return func(prev string) (*AuditEvent, error) {
			seen = append(seen, prev)
			return &AuditEvent{Action: "patient.create", PrevHash: prev, EventHash: hash}, nil
		}
	}
	first, err := store.Audit.Append(ctx, link("abc"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	_, err = store.Audit.Append(ctx, link("def"))
	require.NoError(t, err)
	require.Equal(t, []string{"", "abc"}, seen)

	tip, err = store.Audit.ChainTip(ctx)
	require.NoError(t, err)
	require.Equal(t, "def", tip)

	events, err := store.Audit.List(ctx, AuditFilter{Action: "patient.create"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "{}", events[0].DetailsJSON)
	require.Equal(t, "abc", events[1].PrevHash)
}

func TestAuditAppendRejectsStaleLinkAndKeepsTip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Audit.Append(ctx, func(prev string) (*AuditEvent, error) {
		return &AuditEvent{Action: "room.create", PrevHash: prev, EventHash: "abc"}, nil
	})
	require.NoError(t, err)

	_, err = store.Audit.Append(ctx, func(string) (*AuditEvent, error) {
		return &AuditEvent{Action: "room.create", PrevHash: "", EventHash: "forked"}, nil
	})
	require.ErrorIs(t, err, ErrConflict)

	linkErr := errors.New("hash failed")
	_, err = store.Audit.Append(ctx, func(string) (*AuditEvent, error) { return nil, linkErr })
	require.ErrorIs(t, err, linkErr)

	tip, err := store.Audit.ChainTip(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", tip)

	events, err := store.Audit.List(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRepositoriesStampRowsWithInjectedClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2031, 6, 1, 9, 30, 0, 0, time.UTC))
	store, err := Open(rawDBPath(t), Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { closeStoreNoErr(t, store) })
	ctx := context.Background()

	hospital := &Hospital{Name: "Hospital Lagomaggiore"}
	require.NoError(t, store.Hospitals.Create(ctx, hospital))
	loaded, err := store.Hospitals.Get(ctx, "Hospital Lagomaggiore")
	require.NoError(t, err)
	require.True(t, loaded.CreatedAt.Equal(clock.Now()), loaded.CreatedAt)

	patient := testPatient("30111230")
	require.NoError(t, store.Patients.Create(ctx, patient, &MedicalRecord{Number: "HC-30111230-1"}))

	clock.Advance(3 * time.Hour)
	patient.Phone = "261-000-1111"
	require.NoError(t, store.Patients.Update(ctx, patient))
	updated, err := store.Patients.Get(ctx, "30111230")
	require.NoError(t, err)
	require.True(t, updated.UpdatedAt.Equal(clock.Now()), updated.UpdatedAt)
	require.True(t, updated.CreatedAt.Equal(clock.Now().Add(-3*time.Hour)), updated.CreatedAt)

	var deletedAt string
	_, err = store.Patients.Delete(ctx, "30111230", clock.Now())
	require.NoError(t, err)
	require.NoError(t, store.DB().QueryRow(`SELECT deleted_at FROM patients WHERE id = ?`, patient.ID).Scan(&deletedAt))
	require.Equal(t, fmtTime(clock.Now()), deletedAt)
}

func TestBackupWritesOpenableCopy(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Hospitals.Create(ctx, &Hospital{Name: "Backup General"}))

	dest := filepath.Join(t.TempDir(), "backups", "copy.db")
	require.NoError(t, store.Backup(ctx, dest))
	require.ErrorIs(t, store.Backup(ctx, dest), os.ErrExist)

	copyStore, err := Open(dest, Options{})
	require.NoError(t, err)
	defer closeStoreNoErr(t, copyStore)

	loaded, err := copyStore.Hospitals.Get(ctx, "Backup General")
	require.NoError(t, err)
	require.Equal(t, "Backup General", loaded.Name)
}

func TestPingOnOpenStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}

func TestDBFilePermissions0600OnUnix(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permissions assertion is unix-specific")
	}

	path := filepath.Join(t.TempDir(), "wardkeeper.db")
	store, err := Open(path, Options{})
	require.NoError(t, err)
	defer closeStoreNoErr(t, store)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPersonAgeAndFullName(t *testing.T) {
	t.Parallel()

	person := Person{FirstName: "Ana", LastName: "García", BirthDate: time.Date(1990, 8, 15, 0, 0, 0, 0, time.UTC)}
	require.Equal(t, "Ana García", person.FullName())
	require.Equal(t, 34, person.Age(time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 35, person.Age(time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)))
	require.Zero(t, Person{}.Age(time.Now()))
}

type schedulingFixture struct {
	patient *Patient
	doctor  *Doctor
	room    *Room
}

func (f schedulingFixture) appointment(at time.Time) *Appointment {
	return &Appointment{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		RoomID:    f.room.ID,
		At:        at,
		Cost:      decimal.NewFromInt(1500),
	}
}

func newSchedulingFixture(t *testing.T, store *Store) schedulingFixture {
	t.Helper()
	ctx := context.Background()

	hospital := &Hospital{Name: fmt.Sprintf("Fixture %d", time.Now().UnixNano())}
	require.NoError(t, store.Hospitals.Create(ctx, hospital))

	department := &Department{HospitalID: hospital.ID, Name: "Cardiología", Specialty: SpecialtyCardiology}
	require.NoError(t, store.Departments.Create(ctx, department))

	room := &Room{DepartmentID: department.ID, Number: "CAR-101", Kind: "consulting room"}
	require.NoError(t, store.Rooms.Create(ctx, room))

	doctor := testDoctor("12345678", "MP-1234")
	doctor.DepartmentID = department.ID
	require.NoError(t, store.Doctors.Create(ctx, doctor))

	patient := testPatient("35123456")
	require.NoError(t, store.Patients.Create(ctx, patient, &MedicalRecord{Number: "HC-35123456-1"}))

	return schedulingFixture{patient: patient, doctor: doctor, room: room}
}

func testDoctor(dni, license string) *Doctor {
	return &Doctor{
		Person: Person{
			FirstName: "Carlos",
			LastName:  "López",
			DNI:       dni,
			BirthDate: time.Date(1975, 5, 15, 0, 0, 0, 0, time.UTC),
			BloodType: BloodTypeOPositive,
		},
		License:   license,
		Specialty: SpecialtyCardiology,
	}
}

func testPatient(dni string) *Patient {
	return &Patient{
		Person: Person{
			FirstName: "María",
			LastName:  "González",
			DNI:       dni,
			BirthDate: time.Date(1985, 12, 5, 0, 0, 0, 0, time.UTC),
			BloodType: BloodTypeAPositive,
		},
		Phone:   "011-1234-5678",
		Address: "Calle Falsa 123",
	}
}

func openRawTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := rawDBPath(t)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	return db
}

func rawDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wardkeeper.db")
}

func mustSchemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var version int
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	return version
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(rawDBPath(t), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { closeStoreNoErr(t, store) })
	return store
}

func closeStoreNoErr(t *testing.T, store *Store) {
	t.Helper()
	require.NoError(t, store.Close())
}

func closeNoErr(t *testing.T, db *sql.DB) {
	t.Helper()
	require.NoError(t, db.Close())
}
