// Package events publishes domain events about consent submissions to the
// message broker.
package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TypeConsentSubmitted is published after a signed consent document has
// been archived and handed to the backend.
const TypeConsentSubmitted = "consent.submitted"

// Event is the envelope every published message carries.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into a fresh envelope.
func NewEvent(eventType, resourceType, resourceID string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      raw,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Publisher delivers events. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the
// given secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of payload
// under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NoopPublisher drops events after logging them at debug level. It is used
// when no broker is configured.
type NoopPublisher struct {
	logger zerolog.Logger
}

func NewNoopPublisher(logger zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *NoopPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("event dropped, no broker configured")
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

// MemoryPublisher keeps every published event in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes subsequent Publish calls return err.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the published events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *MemoryPublisher) Close() error { return nil }
