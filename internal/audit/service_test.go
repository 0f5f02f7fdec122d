package audit

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestHashChainAppendAndVerify(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	recordThreeEvents(t, ctx, svc)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.Equal(t, 3, verify.EventCount)
	require.NotEmpty(t, verify.ChainTip)
}

func TestHashChainTamperMiddleDetailsFails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	recordThreeEvents(t, ctx, svc)

	events, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	_, err = store.DB().Exec(`UPDATE audit_events SET details_json = ? WHERE id = ?`, `{"reason":"tampered"}`, events[1].ID)
	require.NoError(t, err)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.False(t, verify.Valid)
	require.Contains(t, verify.Error, "hash mismatch")
}

func TestHashChainDeletedEventFails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	recordThreeEvents(t, ctx, svc)
	events, err := svc.List(ctx, Filter{})
	require.NoError(t, err)

	_, err = store.DB().Exec(`DELETE FROM audit_events WHERE id = ?`, events[0].ID)
	require.NoError(t, err)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.False(t, verify.Valid)
}

func TestHashChainTamperedTipFails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	recordThreeEvents(t, ctx, svc)
	events, err := svc.List(ctx, Filter{})
	require.NoError(t, err)

	_, err = store.DB().Exec(`DELETE FROM audit_events WHERE id = ?`, events[2].ID)
	require.NoError(t, err)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.False(t, verify.Valid)
	require.Equal(t, "hash mismatch at chain tip", verify.Error)
}

func TestHashChainEmptyVerifySucceeds(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	verify, err := svc.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.Equal(t, 0, verify.EventCount)
	require.Empty(t, verify.ChainTip)
}

func TestChainContinuesAcrossServiceRestart(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	ctx := context.Background()

	first := mustNewService(t, store.Audit)
	recordThreeEvents(t, ctx, first)

	second := mustNewService(t, store.Audit)
	require.NoError(t, second.Record(ctx, Event{Action: ActionBackupCreate, TargetType: "backup", TargetID: "b-1"}))

	verify, err := second.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.Equal(t, 4, verify.EventCount)
}

func TestCanonicalEncodeSortsKeysAtEveryDepth(t *testing.T) {
	t.Parallel()

	payload := struct {
		Z string         `json:"z"`
		A map[string]any `json:"a"`
		M []int          `json:"m"`
	}{
		Z: "<last>",
		A: map[string]any{"y": 1.5, "b": true},
		M: []int{3, 1},
	}

	got, err := canonicalEncode(payload)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"b":true,"y":1.5},"m":[3,1],"z":"<last>"}`, string(got))
}

func TestRecordAcceptsMapDetails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, Event{
		Action:  ActionSystemServeStart,
		Details: map[string]string{"listen": "127.0.0.1:8080", "phone": "261-000"},
	}))

	events, err := svc.List(ctx, Filter{Action: ActionSystemServeStart})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, `{"listen":"127.0.0.1:8080"}`, events[0].DetailsJSON)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
}

func TestHashChainTamperedActorFails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := WithActor(context.Background(), "cli:alice")

	recordThreeEvents(t, ctx, svc)
	events, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, "cli:alice", events[1].Actor)

	_, err = store.DB().Exec(`UPDATE audit_events SET actor = ? WHERE id = ?`, "cli:bob", events[1].ID)
	require.NoError(t, err)

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.False(t, verify.Valid)
	require.Equal(t, "hash mismatch at event "+events[1].ID, verify.Error)
}

func TestTwoStoresOnOneFileExtendTheSameChain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wardkeeper.db")
	serveStore := openAuditTestStore(t, path)
	cliStore := openAuditTestStore(t, path)
	server := mustNewService(t, serveStore.Audit)
	cli := mustNewService(t, cliStore.Audit)

	serveCtx := WithActor(context.Background(), "serve")
	cliCtx := WithActor(context.Background(), "cli")

	require.NoError(t, server.Record(serveCtx, Event{Action: ActionSystemServeStart}))
	require.NoError(t, cli.Record(cliCtx, Event{Action: ActionPatientCreate, TargetType: "patient", TargetID: "p-1"}))
	require.NoError(t, server.Record(serveCtx, Event{Action: ActionAppointmentSchedule, TargetType: "appointment", TargetID: "a-1"}))

	const perWriter = 10
	var wg sync.WaitGroup
	errCh := make(chan error, 2*perWriter)
	for _, writer := range []struct {
		svc *Service
		ctx context.Context
	}{{server, serveCtx}, {cli, cliCtx}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := writer.svc.Record(writer.ctx, Event{Action: ActionRecordAppend, TargetType: "patient", TargetID: "p-1"}); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	for _, svc := range []*Service{server, cli} {
		verify, err := svc.Verify(context.Background())
		require.NoError(t, err)
		require.True(t, verify.Valid, verify.Error)
		require.Equal(t, 3+2*perWriter, verify.EventCount)
	}
}

func TestRecordRequiresAction(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	require.Error(t, svc.Record(context.Background(), Event{Action: "  "}))
}

func TestConcurrentRecordKeepsValidChain(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	const writes = 50
	var wg sync.WaitGroup
	errCh := make(chan error, writes)
	for i := 0; i < writes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Record(ctx, Event{
				Action:     ActionAppointmentSchedule,
				TargetType: "appointment",
				TargetID:   "parallel",
				Details:    detailPayload{Reason: "parallel"},
			})
			if err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.Equal(t, writes, verify.EventCount)
}

func TestEventRecordingSupportsAllActionTypes(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	for _, action := range AllActionTypes {
		require.NoError(t, svc.Record(ctx, Event{
			Action:     action,
			TargetType: "entity",
			TargetID:   action,
			Details:    detailPayload{Reason: "coverage"},
		}))
	}

	for _, action := range AllActionTypes {
		filtered, err := svc.List(ctx, Filter{Action: action})
		require.NoError(t, err)
		require.Len(t, filtered, 1, "action %s should be present exactly once", action)
	}
}

func TestServeLifecycleActionsAreDotted(t *testing.T) {
	t.Parallel()

	for _, action := range []string{ActionSystemServeStart, ActionSystemServeStop} {
		parts := strings.Split(action, ".")
		require.Len(t, parts, 3, action)
		require.Equal(t, []string{"system", "serve"}, parts[:2], action)
		require.NotContains(t, action, "-")
	}
}

func TestEventRecordingUsesClockAndContextActor(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC))
	svc, err := NewService(store.Audit, clock)
	require.NoError(t, err)

	ctx := WithActor(context.Background(), "cli:reception")
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionPatientCreate,
		TargetType: "patient",
		TargetID:   "p-1",
	}))

	events, err := svc.List(ctx, Filter{TargetID: "p-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].Timestamp.Equal(clock.Now()))
	require.Equal(t, "cli:reception", events[0].Actor)
	require.Equal(t, "success", events[0].Result)
	require.Equal(t, "{}", events[0].DetailsJSON)
}

func TestEventRecordingStripsClinicalFieldsFromDetails(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionRecordAppend,
		TargetType: "patient",
		TargetID:   "sensitive",
		Details: clinicalDetails{
			Kind:      "diagnosis",
			DNI:       "30111222",
			Diagnosis: "Hipertensión",
			Phone:     "261-111-2222",
			Nested:    nestedDetails{Address: "Calle Falsa 123", Room: "C-101"},
		},
	}))

	events, err := svc.List(ctx, Filter{TargetID: "sensitive"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	details := events[0].DetailsJSON
	require.Contains(t, details, `"kind":"diagnosis"`)
	require.Contains(t, details, `"room":"C-101"`)
	require.NotContains(t, details, "30111222")
	require.NotContains(t, details, "Hipertensión")
	require.NotContains(t, details, "261-111-2222")
	require.NotContains(t, strings.ToLower(details), "calle falsa")

	verify, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
}

func TestAuditListFiltersByActionDateRangeAndTargetID(t *testing.T) {
	t.Parallel()

	store := newAuditTestStore(t)
	svc := mustNewService(t, store.Audit)
	ctx := context.Background()
	base := time.Now().UTC().Add(-10 * time.Minute)

	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionDoctorCreate,
		TargetType: "doctor",
		TargetID:   "doctor-a",
		Timestamp:  base,
	}))
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionDoctorDelete,
		TargetType: "doctor",
		TargetID:   "doctor-b",
		Timestamp:  base.Add(2 * time.Minute),
	}))
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionDoctorCreate,
		TargetType: "doctor",
		TargetID:   "doctor-c",
		Timestamp:  base.Add(4 * time.Minute),
	}))

	byAction, err := svc.List(ctx, Filter{Action: ActionDoctorCreate})
	require.NoError(t, err)
	require.Len(t, byAction, 2)

	since := base.Add(90 * time.Second)
	until := base.Add(3 * time.Minute)
	byRange, err := svc.List(ctx, Filter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	require.Equal(t, "doctor-b", byRange[0].TargetID)

	byTarget, err := svc.List(ctx, Filter{TargetID: "doctor-c"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	require.Equal(t, ActionDoctorCreate, byTarget[0].Action)
}

type detailPayload struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

type nestedDetails struct {
	Address string `json:"address,omitempty"`
	Room    string `json:"room,omitempty"`
}

type clinicalDetails struct {
	Kind      string        `json:"kind"`
	DNI       string        `json:"dni"`
	Diagnosis string        `json:"diagnosis"`
	Phone     string        `json:"phone"`
	Nested    nestedDetails `json:"nested"`
}

func recordThreeEvents(t *testing.T, ctx context.Context, svc *Service) {
	t.Helper()
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionHospitalCreate,
		TargetType: "hospital",
		TargetID:   "hospital-1",
		Details:    detailPayload{Reason: "bootstrap"},
	}))
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionPatientCreate,
		TargetType: "patient",
		TargetID:   "patient-1",
		Details:    detailPayload{Reason: "admission"},
	}))
	require.NoError(t, svc.Record(ctx, Event{
		Action:     ActionAppointmentSchedule,
		TargetType: "appointment",
		TargetID:   "appointment-1",
		Details:    detailPayload{Reason: "control"},
	}))
}

func mustNewService(t *testing.T, repo storage.AuditRepository) *Service {
	t.Helper()
	svc, err := NewService(repo, clockwork.NewRealClock())
	require.NoError(t, err)
	return svc
}

func newAuditTestStore(t *testing.T) *storage.Store {
	t.Helper()
	return openAuditTestStore(t, filepath.Join(t.TempDir(), "wardkeeper.db"))
}

func openAuditTestStore(t *testing.T, path string) *storage.Store {
	t.Helper()
	store, err := storage.Open(path, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
