package models

import "time"

// HealthStatus is the state of the per-integration health machine
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ErrorClass is the last failure seen, collapsed for health purposes
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassHard      ErrorClass = "hard"
	ErrorClassNone      ErrorClass = "none"
)

// HealthRecord tracks liveness of one integration
type HealthRecord struct {
	Kind                 Kind         `json:"kind"`
	IntegrationID        string       `json:"integration_id"`
	UserID               string       `json:"user_id,omitempty"`
	Provider             string       `json:"provider,omitempty"`
	Status               HealthStatus `json:"status"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	ConsecutiveTransient int          `json:"consecutive_transient"`
	LastErrorClass       ErrorClass   `json:"last_error_class"`
	LastError            string       `json:"last_error,omitempty"`
	LastCheckedAt        time.Time    `json:"last_checked_at,omitempty"`
	NextCheckAt          time.Time    `json:"next_check_at,omitempty"`
	Validated            bool         `json:"validated"`
}

// NewHealthRecord returns the default record for an integration that has not been checked
func NewHealthRecord(kind Kind, integrationID string) HealthRecord {
	return HealthRecord{
		Kind:           kind,
		IntegrationID:  integrationID,
		Status:         HealthHealthy,
		LastErrorClass: ErrorClassNone,
	}
}

// HealthSummary counts records per status
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

// Add counts one record
func (s *HealthSummary) Add(r HealthRecord) {
	s.Total++
	switch r.Status {
	case HealthHealthy:
		s.Healthy++
	case HealthDegraded:
		s.Degraded++
	case HealthUnhealthy:
		s.Unhealthy++
	}
}

// UserHealthReport is the per-user projection over health records
type UserHealthReport struct {
	UserID               string         `json:"user_id"`
	CalendarIntegrations []HealthRecord `json:"calendar_integrations"`
	VideoIntegrations    []HealthRecord `json:"video_integrations"`
	Summary              HealthSummary  `json:"summary"`
	GeneratedAt          time.Time      `json:"generated_at"`
}
