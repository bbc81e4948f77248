// Package outlook serves Outlook and Microsoft 365 calendars through the
// Microsoft Graph REST API.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"calsync/internal/common/errors"
	commonhttp "calsync/internal/common/http"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/common/validation"
	"calsync/internal/models"
	"calsync/internal/providers"
)

const (
	// Tag is the provider tag
	Tag = "outlook"

	// DefaultEndpoint is the Graph v1.0 root
	DefaultEndpoint = "https://graph.microsoft.com/v1.0"

	source = "outlook"
)

// Options configures the provider
type Options struct {
	ClientID     string
	ClientSecret string
	// Tenant defaults to "common"
	Tenant   string
	Endpoint string
	HTTP     *commonhttp.HTTPClientWrapper
	Logger   logging.Logger
}

// Provider builds Graph clients
type Provider struct {
	opts   Options
	oauth  *oauth2.Config
	logger logging.Logger
}

// New creates the provider
func New(opts Options) *Provider {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if opts.HTTP == nil {
		opts.HTTP = commonhttp.NewHTTPClientWrapper()
	}
	if opts.Tenant == "" {
		opts.Tenant = "common"
	}

	p := &Provider{opts: opts, logger: logging.OrGlobal(opts.Logger)}
	if opts.ClientID != "" {
		p.oauth = &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(opts.Tenant),
			Scopes:       []string{"offline_access", "Calendars.ReadWrite"},
		}
	}
	return p
}

func (p *Provider) Type() string        { return Tag }
func (p *Provider) DisplayName() string { return "Outlook Calendar" }

func (p *Provider) ConfigSchema() []providers.SchemaField {
	return []providers.SchemaField{
		{Name: "access_token", Label: "Access token", Type: "password", Required: true, Secret: true},
		{Name: "refresh_token", Label: "Refresh token", Type: "password", Secret: true},
		{Name: "calendar_paths", Label: "Calendars", Type: "list"},
	}
}

func (p *Provider) ValidateConfig(cfg providers.Config) error {
	return validation.NewValidatorWithPrefix(Tag).
		RequireString(cfg.AccessToken, "access_token").
		Error()
}

// NewClient binds a Graph client to the integration's token
func (p *Provider) NewClient(cfg providers.Config) (providers.Client, error) {
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return nil, errors.AuthError("outlook access token is missing")
	}

	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		Expiry:       cfg.TokenExpiry,
		TokenType:    "Bearer",
	}
	var tokens oauth2.TokenSource
	if p.oauth != nil && cfg.RefreshToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.opts.HTTP.GetHTTPClient())
		tokens = p.oauth.TokenSource(ctx, token)
	} else {
		tokens = oauth2.StaticTokenSource(token)
	}

	return &client{
		endpoint:  p.opts.Endpoint,
		http:      p.opts.HTTP,
		tokens:    tokens,
		calendars: cfg.CalendarPaths,
		logger:    p.logger.WithFields(logging.String("provider", Tag)),
		now:       time.Now,
	}, nil
}

type client struct {
	endpoint  string
	http      *commonhttp.HTTPClientWrapper
	tokens    oauth2.TokenSource
	calendars []string
	logger    logging.Logger
	now       func() time.Time
}

func (c *client) Provider() string { return Tag }

func (c *client) do(ctx context.Context, method, target string, body interface{}, out interface{}, accept ...int) error {
	token, err := c.tokens.Token()
	if err != nil {
		return errors.AuthError("failed to obtain outlook access token").WithContext("reason", err.Error())
	}

	opts := &commonhttp.RequestOptions{
		Method:       method,
		URL:          target,
		BearerToken:  token.AccessToken,
		AcceptStatus: accept,
		Headers: map[string]string{
			"Prefer": `outlook.timezone="UTC"`,
		},
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.InternalError("failed to encode request body", err)
		}
		opts.Body = data
		opts.Headers["Content-Type"] = "application/json"
	}
	return c.http.DoJSON(ctx, opts, out)
}

func (c *client) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	if len(c.calendars) == 0 {
		return c.ListPrimaryEvents(ctx, start, end)
	}

	var events []models.Event
	seen := make(map[string]struct{})
	var firstErr error
	failures := 0
	for _, id := range c.calendars {
		batch, err := c.ListEvents(ctx, id, start, end)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("Calendar fetch failed", logging.String("calendar_id", id), logging.Err(err))
			continue
		}
		for _, ev := range batch {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			events = append(events, ev)
		}
	}
	if failures == len(c.calendars) {
		return nil, firstErr
	}
	return events, nil
}

func (c *client) ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return c.calendarView(ctx, c.endpoint+"/me/calendarView", "", start, end)
}

func (c *client) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error) {
	target := fmt.Sprintf("%s/me/calendars/%s/calendarView", c.endpoint, url.PathEscape(calendarID))
	return c.calendarView(ctx, target, calendarID, start, end)
}

func (c *client) calendarView(ctx context.Context, target, calendarID string, start, end time.Time) ([]models.Event, error) {
	if start.IsZero() || end.IsZero() {
		start, end = utils.MonthWindow(c.now())
	}
	query := url.Values{}
	query.Set("startDateTime", start.UTC().Format(time.RFC3339))
	query.Set("endDateTime", end.UTC().Format(time.RFC3339))
	next := target + "?" + query.Encode()

	events := []models.Event{}
	for next != "" {
		var page graphEventPage
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Value {
			if ev, ok := fromGraph(g, calendarID); ok {
				events = append(events, ev)
			}
		}
		next = page.NextLink
	}
	return events, nil
}

func (c *client) eventsURL() string {
	if len(c.calendars) > 0 {
		return fmt.Sprintf("%s/me/calendars/%s/events", c.endpoint, url.PathEscape(c.calendars[0]))
	}
	return c.endpoint + "/me/events"
}

func (c *client) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	var created graphEvent
	if err := c.do(ctx, http.MethodPost, c.eventsURL(), toGraph(ev), &created); err != nil {
		return models.Event{}, err
	}
	out, _ := fromGraph(created, "")
	return out, nil
}

func (c *client) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	var updated graphEvent
	target := c.endpoint + "/me/events/" + url.PathEscape(uid)
	if err := c.do(ctx, http.MethodPatch, target, toGraph(ev), &updated); err != nil {
		return models.Event{}, err
	}
	out, _ := fromGraph(updated, "")
	return out, nil
}

func (c *client) DeleteEvent(ctx context.Context, uid string) error {
	target := c.endpoint + "/me/events/" + url.PathEscape(uid)
	return c.do(ctx, http.MethodDelete, target, nil, nil, http.StatusNotFound, http.StatusGone)
}

func (c *client) TestConnection(ctx context.Context) (string, error) {
	if err := c.do(ctx, http.MethodGet, c.endpoint+"/me", nil, nil); err != nil {
		return "", err
	}
	return "Successfully connected to Outlook Calendar", nil
}

func (c *client) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	var entries []models.CalendarEntry
	next := c.endpoint + "/me/calendars"
	for next != "" {
		var page graphCalendarPage
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, cal := range page.Value {
			entries = append(entries, models.CalendarEntry{
				ID:      cal.ID,
				Path:    cal.ID,
				Name:    cal.Name,
				Type:    models.CalendarTypeCalendar,
				Color:   cal.HexColor,
				Primary: cal.IsDefaultCalendar,
				Metadata: map[string]string{
					"can_edit": fmt.Sprintf("%t", cal.CanEdit),
				},
			})
		}
		next = page.NextLink
	}
	return entries, nil
}
