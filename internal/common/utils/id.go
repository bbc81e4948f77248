package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRequestID returns an id of the form "req-<uuid>-<unix>" for log correlation.
func GenerateRequestID() string {
	return fmt.Sprintf("req-%s-%d", uuid.NewString(), time.Now().Unix())
}

// GenerateUID returns a globally unique identifier suitable for iCalendar UIDs.
func GenerateUID(domain string) string {
	if domain == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "@" + domain
}
