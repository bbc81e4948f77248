package storage

import (
	"encoding/json"
	"fmt"

	"calsync/internal/common/errors"
	"calsync/internal/crypto"
	"calsync/internal/models"
)

// CredentialCodec turns integration credentials into the single column the
// SQL backends store. Without a key the JSON is stored as is.
type CredentialCodec struct {
	encryptor *crypto.Encryptor
}

// NewCredentialCodec creates a codec; an empty key disables encryption
func NewCredentialCodec(encryptionKey string) (*CredentialCodec, error) {
	if encryptionKey == "" {
		return &CredentialCodec{}, nil
	}

	encryptor, err := crypto.NewEncryptor(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	return &CredentialCodec{encryptor: encryptor}, nil
}

// Encrypted reports whether sealed values are encrypted
func (c *CredentialCodec) Encrypted() bool {
	return c != nil && c.encryptor != nil
}

// Seal serializes credentials for storage
func (c *CredentialCodec) Seal(creds models.Credentials) (string, error) {
	if c.Encrypted() {
		return c.encryptor.EncryptJSON(creds)
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return "", errors.InternalError("failed to marshal credentials", err)
	}
	return string(data), nil
}

// Open reverses Seal. Plaintext rows written before a key was configured are
// still readable; encrypted rows without a key are an error.
func (c *CredentialCodec) Open(value string) (models.Credentials, error) {
	var creds models.Credentials
	if value == "" {
		return creds, nil
	}

	if crypto.IsEncrypted(value) {
		if !c.Encrypted() {
			return creds, errors.ConfigError("stored credentials are encrypted but CONFIG_ENCRYPTION_KEY is not set")
		}
		err := c.encryptor.DecryptJSON(value, &creds)
		return creds, err
	}

	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return creds, errors.InternalError("failed to unmarshal credentials", err)
	}
	return creds, nil
}

// EncodeCalendarList serializes the calendar list column
func EncodeCalendarList(calendars []models.CalendarEntry) (string, error) {
	if calendars == nil {
		calendars = []models.CalendarEntry{}
	}
	data, err := json.Marshal(calendars)
	if err != nil {
		return "", errors.InternalError("failed to marshal calendar list", err)
	}
	return string(data), nil
}

// DecodeCalendarList reverses EncodeCalendarList
func DecodeCalendarList(value string) ([]models.CalendarEntry, error) {
	if value == "" {
		return nil, nil
	}
	var calendars []models.CalendarEntry
	if err := json.Unmarshal([]byte(value), &calendars); err != nil {
		return nil, errors.InternalError("failed to unmarshal calendar list", err)
	}
	return calendars, nil
}
