// Package google serves Google Calendar integrations through the
// calendar/v3 API with OAuth2 bearer tokens.
package google

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/common/validation"
	"calsync/internal/models"
	"calsync/internal/providers"
)

const (
	// Tag is the provider tag
	Tag = "google"

	primaryCalendar = "primary"
	source          = "google"
)

// Options configures the provider
type Options struct {
	// OAuth client credentials; without them tokens are used until they expire
	ClientID     string
	ClientSecret string
	// Endpoint overrides the API base URL, e.g. in tests
	Endpoint string
	// TokenURL overrides the OAuth token endpoint
	TokenURL   string
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Provider builds Google Calendar clients
type Provider struct {
	opts   Options
	oauth  *oauth2.Config
	logger logging.Logger
}

// New creates the provider
func New(opts Options) *Provider {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Provider{opts: opts, logger: logging.OrGlobal(opts.Logger)}
	if opts.ClientID != "" {
		p.oauth = &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{calendar.CalendarScope},
		}
		if opts.TokenURL != "" {
			p.oauth.Endpoint.TokenURL = opts.TokenURL
		}
	}
	return p
}

func (p *Provider) Type() string        { return Tag }
func (p *Provider) DisplayName() string { return "Google Calendar" }

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
		ValidateIf(cfg.AccessToken == "" && cfg.RefreshToken != "" && p.oauth == nil, func() error {
			return fmt.Errorf("refresh_token needs OAuth client credentials")
		}).
		Error()
}

// NewClient builds a calendar service bound to the integration's token
func (p *Provider) NewClient(cfg providers.Config) (providers.Client, error) {
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return nil, errors.AuthError("google access token is missing")
	}

	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		Expiry:       cfg.TokenExpiry,
		TokenType:    "Bearer",
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.opts.HTTPClient)
	var tokens oauth2.TokenSource
	if p.oauth != nil && cfg.RefreshToken != "" {
		tokens = p.oauth.TokenSource(ctx, token)
	} else {
		tokens = oauth2.StaticTokenSource(token)
	}

	options := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, tokens))}
	if p.opts.Endpoint != "" {
		options = append(options, option.WithEndpoint(p.opts.Endpoint))
	}

	svc, err := calendar.NewService(ctx, options...)
	if err != nil {
		return nil, errors.InternalError("failed to create calendar service", err)
	}

	return &client{
		svc:       svc,
		calendars: cfg.CalendarPaths,
		logger:    p.logger.WithFields(logging.String("provider", Tag)),
		now:       time.Now,
	}, nil
}

type client struct {
	svc       *calendar.Service
	calendars []string
	logger    logging.Logger
	now       func() time.Time
}

func (c *client) Provider() string { return Tag }

// GetEvents reads the configured calendars, or the primary one when none is
// configured. Events are de-duplicated by id.
func (c *client) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	ids := c.calendars
	if len(ids) == 0 {
		ids = []string{primaryCalendar}
	}

	var events []models.Event
	seen := make(map[string]struct{})
	var firstErr error
	failures := 0
	for _, id := range ids {
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
	if failures == len(ids) {
		return nil, firstErr
	}
	return events, nil
}

func (c *client) ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return c.ListEvents(ctx, primaryCalendar, start, end)
}

func (c *client) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error) {
	if start.IsZero() || end.IsZero() {
		start, end = utils.MonthWindow(c.now())
	}

	var events []models.Event
	err := c.svc.Events.List(calendarID).
		TimeMin(start.UTC().Format(time.RFC3339)).
		TimeMax(end.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if ev, ok := fromAPI(item, calendarID); ok {
					events = append(events, ev)
				}
			}
			return nil
		})
	if err != nil {
		return nil, mapError(err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

func (c *client) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	created, err := c.svc.Events.Insert(c.targetCalendar(), toAPI(ev)).Context(ctx).Do()
	if err != nil {
		return models.Event{}, mapError(err)
	}
	out, _ := fromAPI(created, c.targetCalendar())
	return out, nil
}

func (c *client) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	updated, err := c.svc.Events.Update(c.targetCalendar(), uid, toAPI(ev)).Context(ctx).Do()
	if err != nil {
		return models.Event{}, mapError(err)
	}
	out, _ := fromAPI(updated, c.targetCalendar())
	return out, nil
}

func (c *client) DeleteEvent(ctx context.Context, uid string) error {
	err := c.svc.Events.Delete(c.targetCalendar(), uid).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if stderrors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return mapError(err)
	}
	return nil
}

func (c *client) TestConnection(ctx context.Context) (string, error) {
	if _, err := c.svc.CalendarList.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return "", mapError(err)
	}
	return "Successfully connected to Google Calendar", nil
}

func (c *client) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	var entries []models.CalendarEntry
	err := c.svc.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			entries = append(entries, models.CalendarEntry{
				ID:      item.Id,
				Path:    item.Id,
				Name:    name,
				Type:    models.CalendarTypeCalendar,
				Color:   item.BackgroundColor,
				Primary: item.Primary,
				Metadata: map[string]string{
					"access_role": item.AccessRole,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (c *client) targetCalendar() string {
	if len(c.calendars) > 0 {
		return c.calendars[0]
	}
	return primaryCalendar
}

// mapError turns googleapi errors into AppErrors keyed by HTTP status. A
// refresh rejected by the token endpoint (invalid_grant, revoked consent)
// is an auth failure unless the endpoint itself failed.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return errors.HTTPStatusError(apiErr.Code, apiErr.Message)
	}
	var tokenErr *oauth2.RetrieveError
	if stderrors.As(err, &tokenErr) {
		if tokenErr.Response != nil && tokenErr.Response.StatusCode >= 500 {
			return errors.HTTPStatusError(tokenErr.Response.StatusCode, "google token endpoint unavailable")
		}
		return errors.AuthError("google token refresh was rejected").
			WithContext("oauth_error", tokenErr.ErrorCode)
	}
	return errors.NetworkError("google calendar request failed", err)
}
