package audit

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
)

const defaultRecordResult = "success"

// verifyScanLimit bounds a single verification walk.
const verifyScanLimit = 1_000_000

type actorKey struct{}

// WithActor tags ctx with the principal recorded on audit events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Service appends hash-chained audit events. The chain tip is read and
// advanced inside the store's write transaction, so every process sharing
// the database file extends the same chain.
type Service struct {
	repo  storage.AuditRepository
	clock clockwork.Clock

	// appendMu keeps this process's writers from queueing on the
	// database write lock.
	appendMu sync.Mutex
}

func NewService(repo storage.AuditRepository, clock clockwork.Clock) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("new audit service: repository is nil")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: repo, clock: clock}, nil
}

func (s *Service) Record(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("record audit event: action is required")
	}
	at := event.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()
	result := event.Result
	if result == "" {
		result = defaultRecordResult
	}
	actor := event.Actor
	if actor == "" {
		actor = ActorFrom(ctx)
	}

	details, err := scrubDetails(event.Details)
	if err != nil {
		return fmt.Errorf("record audit event: details: %w", err)
	}
	body := newLink(at, actor, event.Action, event.TargetType, event.TargetID, result, details)

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	_, err = s.repo.Append(ctx, func(prev string) (*storage.AuditEvent, error) {
		hash, err := body.hash(prev)
		if err != nil {
			return nil, err
		}
		return &storage.AuditEvent{
			Actor:       actor,
			Action:      event.Action,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      result,
			DetailsJSON: string(details),
			PrevHash:    prev,
			EventHash:   hash,
			CreatedAt:   at,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Verify recomputes every hash from the first event and checks the result
// against the stored chain tip.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	events, err := s.repo.List(ctx, storage.AuditFilter{Limit: verifyScanLimit})
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: list events: %w", err)
	}

	result := &VerifyResult{EventCount: len(events)}
	prev := ""
	for _, event := range events {
		body, err := storedLink(event)
		if err != nil {
			return nil, fmt.Errorf("verify audit chain: event %s: %w", event.ID, err)
		}
		want, err := body.hash(prev)
		if err != nil {
			return nil, fmt.Errorf("verify audit chain: event %s: %w", event.ID, err)
		}
		if !sameHash(event.PrevHash, prev) || !sameHash(event.EventHash, want) {
			result.ChainTip = prev
			result.Error = fmt.Sprintf("hash mismatch at event %s", event.ID)
			return result, nil
		}
		prev = event.EventHash
	}
	result.ChainTip = prev

	tip, err := s.repo.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: read chain tip: %w", err)
	}
	if !sameHash(tip, prev) {
		result.Error = "hash mismatch at chain tip"
		return result, nil
	}
	result.Valid = true
	return result, nil
}

func sameHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Service) List(ctx context.Context, filter Filter) ([]RecordedEvent, error) {
	events, err := s.repo.List(ctx, storage.AuditFilter{
		Action:   filter.Action,
		TargetID: filter.TargetID,
		Since:    filter.Since,
		Until:    filter.Until,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	out := make([]RecordedEvent, 0, len(events))
	for _, event := range events {
		out = append(out, RecordedEvent{
			ID:          event.ID,
			Timestamp:   event.CreatedAt,
			Actor:       event.Actor,
			Action:      event.Action,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      event.Result,
			DetailsJSON: event.DetailsJSON,
			PrevHash:    event.PrevHash,
			EventHash:   event.EventHash,
		})
	}
	return out, nil
}
