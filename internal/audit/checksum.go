package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// checksumProjection fixes the field order hashed into a record checksum.
// Map keys inside the value snapshots are sorted by encoding/json.
type checksumProjection struct {
	EntityType string             `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	Action     models.AuditAction `json:"action"`
	Actor      models.Actor       `json:"actor"`
	CreatedAt  string             `json:"created_at"`
	OldValues  models.Values      `json:"old_values"`
	NewValues  models.Values      `json:"new_values"`
}

// Checksum is the hex SHA-256 of the record's fixed projection. It is used
// to detect tampering, never to repair it.
func Checksum(r models.AuditRecord) (string, error) {
	payload, err := json.Marshal(checksumProjection{
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		Actor:      r.Actor,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		OldValues:  emptyAsNil(r.OldValues),
		NewValues:  emptyAsNil(r.NewValues),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// ChangedFields returns the sorted union of keys whose serialized values
// differ between old and new. A missing key and a nil value are equal.
func ChangedFields(oldValues, newValues models.Values) []string {
	keys := make(map[string]struct{}, len(oldValues)+len(newValues))
	for k := range oldValues {
		keys[k] = struct{}{}
	}
	for k := range newValues {
		keys[k] = struct{}{}
	}

	changed := make([]string, 0)
	for k := range keys {
		if !bytes.Equal(serialize(oldValues[k]), serialize(newValues[k])) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func serialize(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// normalizeValues round-trips a snapshot through JSON so the stored form,
// and therefore the checksum, does not depend on the caller's Go types or
// on the storage backend.
func normalizeValues(v models.Values) (models.Values, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out models.Values
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func emptyAsNil(v models.Values) models.Values {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ToValues converts any JSON-serializable entity into a snapshot.
func ToValues(entity any) models.Values {
	if entity == nil {
		return nil
	}
	b, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var out models.Values
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
