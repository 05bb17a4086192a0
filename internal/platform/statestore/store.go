// Package statestore persists wizard session state as named JSON blobs.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Key names one of the persisted session blobs.
type Key string

const (
	KeyFormData    Key = "form_data"
	KeyConsentData Key = "consent_data"
	KeyImageData   Key = "image_data"
)

// Keys lists every valid key.
var Keys = []Key{KeyFormData, KeyConsentData, KeyImageData}

var (
	ErrNotFound     = errors.New("state not found")
	ErrUnknownKey   = errors.New("unknown state key")
	ErrInvalidValue = errors.New("state value is not valid JSON")
)

// Store reads and writes session blobs. Implementations are safe for
// concurrent use, and a Set refreshes the expiry of every key in the
// session.
type Store interface {
	Get(ctx context.Context, sessionID string, key Key) ([]byte, error)
	Set(ctx context.Context, sessionID string, key Key, value []byte) error
	Clear(ctx context.Context, sessionID string) error
}

// Purger is implemented by stores that need expired sessions removed
// periodically.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ValidKey reports whether k is one of Keys.
func ValidKey(k Key) bool {
	for _, known := range Keys {
		if k == known {
			return true
		}
	}
	return false
}

func checkWrite(key Key, value []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}

func checkRead(key Key) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, sessionID string, key Key, v interface{}) error {
	data, err := s.Get(ctx, sessionID, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, sessionID string, key Key, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, sessionID, key, data)
}
