// Package providers puts every calendar back end behind one contract.
// A CalendarProvider validates configuration and builds Clients; the
// Registry maps provider tags to providers and the Adapter instruments
// every client call.
package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"calsync/internal/models"
)

// Config is the provider-neutral account configuration a client is built from
type Config struct {
	BaseURL       string    `json:"base_url,omitempty"`
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"password,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenExpiry   time.Time `json:"token_expiry,omitempty"`
	CalendarPaths []string  `json:"calendar_paths,omitempty"`
	SkipTLSVerify bool      `json:"skip_tls_verify,omitempty"`
}

// ConfigFromIntegration extracts a client configuration from a stored integration
func ConfigFromIntegration(in *models.Integration) Config {
	return Config{
		BaseURL:       in.BaseURL,
		Username:      in.Credentials.Username,
		Password:      in.Credentials.Password,
		AccessToken:   in.Credentials.AccessToken,
		RefreshToken:  in.Credentials.RefreshToken,
		TokenExpiry:   in.Credentials.TokenExpiry,
		CalendarPaths: in.CalendarPaths(),
		SkipTLSVerify: in.SkipTLSVerify,
	}
}

// Host returns the lower-cased host of BaseURL, or "" when it has none
func (c Config) Host() string {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// AccountKey identifies the account as "username@host". The URL path is
// deliberately not part of the key.
func (c Config) AccountKey() string {
	return c.Username + "@" + c.Host()
}

// SchemaField describes one configuration field of a provider
type SchemaField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"` // string, url, password, bool, list
	Required bool   `json:"required"`
	Secret   bool   `json:"secret,omitempty"`
}

// Client is one authenticated connection to a calendar account
type Client interface {
	// Provider returns the tag the client was built for
	Provider() string

	// GetEvents reads the configured calendars. A zero window means the
	// current month in UTC.
	GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
	// ListPrimaryEvents reads the account's primary calendar only
	ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
	// ListEvents reads one calendar by id
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error)

	CreateEvent(ctx context.Context, ev models.Event) (models.Event, error)
	UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error)
	DeleteEvent(ctx context.Context, uid string) error

	TestConnection(ctx context.Context) (string, error)
	DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error)
}

// CalendarProvider builds clients for one provider tag
type CalendarProvider interface {
	// Type returns the provider tag, e.g. "radicale" or "google"
	Type() string
	DisplayName() string
	ConfigSchema() []SchemaField
	ValidateConfig(cfg Config) error
	NewClient(cfg Config) (Client, error)
}
