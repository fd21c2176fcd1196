package outbox

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
)

// ErrMalformedEnvelope marks bus messages the subscriber cannot decode.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is the wire format carried on the bus. EventData keys are
// snake_case field names.
type Envelope struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEnvelope wraps an outbox record for publishing.
func NewEnvelope(rec model.OutboxRecord) Envelope {
	return Envelope{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		AggregateType: rec.AggregateType,
		AggregateID:   rec.AggregateID,
		EventType:     rec.EventType,
		EventData:     json.RawMessage(rec.EventData),
		CreatedAt:     rec.CreatedAt,
	}
}

// DecodeEnvelope parses a bus message, rejecting payloads missing the fields
// consumers key on.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	if e.ID == "" || e.AggregateType == "" || e.AggregateID == "" || e.EventType == "" {
		return Envelope{}, ErrMalformedEnvelope
	}
	return e, nil
}

// Action returns the event-type suffix ("created", "updated", "deleted").
func (e Envelope) Action() string {
	idx := strings.LastIndexByte(e.EventType, '.')
	if idx < 0 {
		return e.EventType
	}
	return e.EventType[idx+1:]
}
