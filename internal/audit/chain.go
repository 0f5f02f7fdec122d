package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/storage"
)

// link is the hashed body of one audit event. The event hash is
// SHA-256(prev_hash || canonical(link)).
type link struct {
	Timestamp  string          `json:"timestamp"`
	Actor      string          `json:"actor,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"`
	Details    json.RawMessage `json:"details"`
}

func newLink(at time.Time, actor, action, targetType, targetID, result string, details json.RawMessage) link {
	return link{
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     result,
		Details:    details,
	}
}

// storedLink rebuilds the hashed body from a persisted row.
func storedLink(event storage.AuditEvent) (link, error) {
	details := strings.TrimSpace(event.DetailsJSON)
	if details == "" {
		details = "{}"
	}
	if !json.Valid([]byte(details)) {
		return link{}, fmt.Errorf("details are not valid json")
	}
	return newLink(event.CreatedAt, event.Actor, event.Action, event.TargetType, event.TargetID, event.Result, json.RawMessage(details)), nil
}

func (l link) hash(prev string) (string, error) {
	body, err := canonicalEncode(l)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(prev), body...))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalEncode renders v as JSON with object keys sorted at every depth
// and no insignificant whitespace. Numbers keep their literal form.
func canonicalEncode(v any) ([]byte, error) {
	decoded, err := decodeGeneric(v)
	if err != nil {
		return nil, err
	}
	return encodeGeneric(decoded)
}

func decodeGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonical json: decode: %w", err)
	}
	return decoded, nil
}

// encodeGeneric relies on encoding/json sorting map keys.
func encodeGeneric(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical json: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// scrubDetails canonicalizes event details and drops keys that could carry
// patient identity or clinical content.
func scrubDetails(details any) (json.RawMessage, error) {
	if details == nil {
		return json.RawMessage(`{}`), nil
	}
	decoded, err := decodeGeneric(details)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return json.RawMessage(`{}`), nil
	}
	out, err := encodeGeneric(dropSensitive(decoded))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

func dropSensitive(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		kept := make(map[string]any, len(typed))
		for key, nested := range typed {
			if sensitiveKey(key) {
				continue
			}
			kept[key] = dropSensitive(nested)
		}
		return kept
	case []any:
		for i, nested := range typed {
			typed[i] = dropSensitive(nested)
		}
		return typed
	default:
		return value
	}
}

// Detail keys containing any of these fragments never reach the log.
var sensitiveFragments = []string{
	"dni", "phone", "address", "birth",
	"first_name", "last_name", "full_name",
	"diagnos", "treatment", "allerg", "notes",
	"blood",
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
