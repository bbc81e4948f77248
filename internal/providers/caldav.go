package providers

import (
	"context"
	"time"

	"calsync/internal/caldav"
	"calsync/internal/common/errors"
	"calsync/internal/common/validation"
	"calsync/internal/models"
)

// CalDAVTags lists the provider tags served by the CalDAV client
var CalDAVTags = []string{"caldav", "radicale", "nextcloud", "owncloud", "baikal", "sabredav"}

// CalDAVProvider serves one CalDAV flavor. All flavors share a transport.
type CalDAVProvider struct {
	tag       string
	flavor    caldav.Flavor
	transport *caldav.Transport
	validator *validation.StructValidator
}

// NewCalDAVProvider creates the provider for tag. Tags that do not name a
// flavor use URL detection at client build time.
func NewCalDAVProvider(tag string, transport *caldav.Transport) *CalDAVProvider {
	flavor, ok := caldav.ParseFlavor(tag)
	if !ok {
		flavor = caldav.Generic
	}
	return &CalDAVProvider{
		tag:       tag,
		flavor:    flavor,
		transport: transport,
		validator: validation.NewStructValidator(),
	}
}

// CalDAVProviders returns one provider per CalDAV tag
func CalDAVProviders(transport *caldav.Transport) []*CalDAVProvider {
	out := make([]*CalDAVProvider, 0, len(CalDAVTags))
	for _, tag := range CalDAVTags {
		out = append(out, NewCalDAVProvider(tag, transport))
	}
	return out
}

func (p *CalDAVProvider) Type() string { return p.tag }

func (p *CalDAVProvider) DisplayName() string {
	return caldav.ProfileFor(p.flavor).DisplayName
}

func (p *CalDAVProvider) ConfigSchema() []SchemaField {
	return []SchemaField{
		{Name: "base_url", Label: "Server URL", Type: "url", Required: true},
		{Name: "username", Label: "Username", Type: "string", Required: true},
		{Name: "password", Label: "Password", Type: "password", Required: true, Secret: true},
		{Name: "calendar_paths", Label: "Calendars", Type: "list"},
		{Name: "skip_tls_verify", Label: "Skip TLS verification", Type: "bool"},
	}
}

// ValidateConfig checks the fields a CalDAV client needs
func (p *CalDAVProvider) ValidateConfig(cfg Config) error {
	if err := p.validator.Struct(toCalDAVConfig(cfg)); err != nil {
		return err
	}

	v := validation.NewValidatorWithPrefix(p.tag)
	for _, path := range cfg.CalendarPaths {
		v.RequireString(path, "calendar_paths entry")
	}
	return v.Error()
}

// NewClient builds a client value; nothing is sent over the network
func (p *CalDAVProvider) NewClient(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ConfigError("base_url is required")
	}
	return &caldavClient{
		tag:    p.tag,
		client: caldav.BuildClient(toCalDAVConfig(cfg), p.tag, p.transport),
	}, nil
}

func toCalDAVConfig(cfg Config) caldav.Config {
	return caldav.Config{
		BaseURL:       cfg.BaseURL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		CalendarPaths: cfg.CalendarPaths,
		VerifySSL:     !cfg.SkipTLSVerify,
	}
}

type caldavClient struct {
	tag    string
	client *caldav.Client
}

func (c *caldavClient) Provider() string { return c.tag }

func (c *caldavClient) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return c.client.GetEvents(ctx, start, end)
}

// ListPrimaryEvents reads the first configured calendar, or the first
// discovered one when none is configured.
func (c *caldavClient) ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	if len(c.client.CalendarPaths) > 0 {
		return c.client.GetCalendarEvents(ctx, c.client.CalendarPaths[0], start, end)
	}

	calendars, err := c.client.DiscoverCalendars(ctx)
	if err != nil {
		return nil, err
	}
	primary := ""
	for _, cal := range calendars {
		if cal.Primary {
			primary = cal.Path
			break
		}
	}
	if primary == "" && len(calendars) > 0 {
		primary = calendars[0].Path
	}
	if primary == "" {
		return nil, errors.NotFoundError("calendar")
	}
	return c.client.GetCalendarEvents(ctx, primary, start, end)
}

func (c *caldavClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error) {
	return c.client.GetCalendarEvents(ctx, calendarID, start, end)
}

func (c *caldavClient) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	return c.client.CreateEvent(ctx, ev)
}

func (c *caldavClient) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	return c.client.UpdateEvent(ctx, uid, ev)
}

func (c *caldavClient) DeleteEvent(ctx context.Context, uid string) error {
	return c.client.DeleteEvent(ctx, uid)
}

func (c *caldavClient) TestConnection(ctx context.Context) (string, error) {
	c.client.RefineFlavor(ctx)
	return c.client.TestConnection(ctx)
}

func (c *caldavClient) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	return c.client.DiscoverCalendars(ctx)
}
