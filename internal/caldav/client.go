package caldav

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"calsync/internal/circuitbreaker"
	"calsync/internal/common/errors"
	commonhttp "calsync/internal/common/http"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MsgNoCalendars is returned when an operation needs a calendar path and none is configured
const MsgNoCalendars = "No calendars configured"

const (
	DefaultFetchConcurrency = 20
	DefaultFetchTimeout     = 30 * time.Second
)

const propfindCalendarsBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:A="http://apple.com/ns/ical/">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
    <A:calendar-color/>
  </D:prop>
</D:propfind>`

const propfindPrincipalBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:current-user-principal/>
  </D:prop>
</D:propfind>`

const propfindHomeSetBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <C:calendar-home-set/>
  </D:prop>
</D:propfind>`

const calendarQueryBody = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

// Config is the account information a client is built from
type Config struct {
	BaseURL       string   `json:"base_url" validate:"required,caldav_url"`
	Username      string   `json:"username" validate:"required"`
	Password      string   `json:"password" validate:"required"`
	CalendarPaths []string `json:"calendar_paths"`
	VerifySSL     bool     `json:"verify_ssl"`
}

// Transport holds the HTTP wrappers shared by every client. Clients are
// cheap values built per call; connections and breakers live here.
type Transport struct {
	secure           *commonhttp.HTTPClientWrapper
	insecure         *commonhttp.HTTPClientWrapper
	logger           logging.Logger
	FetchConcurrency int
	FetchTimeout     time.Duration
	ProbeTimeout     time.Duration
}

// TransportConfig configures NewTransport
type TransportConfig struct {
	RequestTimeout   time.Duration
	FetchConcurrency int
	FetchTimeout     time.Duration
	ProbeTimeout     time.Duration
	Breakers         *circuitbreaker.Manager
	Logger           logging.Logger
	// HTTPTransport replaces the network transport, e.g. in tests
	HTTPTransport http.RoundTripper
}

// NewTransport builds the shared HTTP wrappers
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	logger := logging.OrGlobal(cfg.Logger)

	build := func(insecure bool) *commonhttp.HTTPClientWrapper {
		opts := []commonhttp.ClientOption{commonhttp.WithTimeout(cfg.RequestTimeout)}
		if cfg.HTTPTransport != nil {
			opts = append(opts, commonhttp.WithTransport(cfg.HTTPTransport))
		}
		if insecure {
			opts = append(opts, commonhttp.WithInsecureSkipVerify())
		}
		w := commonhttp.NewHTTPClientWrapper(opts...).WithLogger(logger)
		if cfg.Breakers != nil {
			w = w.WithCircuitBreakers(cfg.Breakers)
		}
		return w
	}

	return &Transport{
		secure:           build(false),
		insecure:         build(true),
		logger:           logger,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchTimeout:     cfg.FetchTimeout,
		ProbeTimeout:     cfg.ProbeTimeout,
	}
}

// HTTP returns the wrapper matching the TLS verification setting
func (t *Transport) HTTP(verifySSL bool) *commonhttp.HTTPClientWrapper {
	if verifySSL {
		return t.secure
	}
	return t.insecure
}

// Client talks to one CalDAV account
type Client struct {
	BaseURL       string
	Username      string
	password      string
	CalendarPaths []string
	VerifySSL     bool
	Provider      string
	Flavor        Flavor

	transport *Transport
	http      *commonhttp.HTTPClientWrapper
	logger    logging.Logger
	now       func() time.Time
}

// BuildClient creates a client value. A provider tag naming a flavor pins
// it; otherwise the flavor is detected from the URL.
func BuildClient(cfg Config, provider string, transport *Transport) *Client {
	if transport == nil {
		transport = NewTransport(TransportConfig{})
	}

	flavor, ok := ParseFlavor(provider)
	if !ok || flavor == Generic {
		flavor = Detect(cfg.BaseURL)
	}

	paths := make([]string, 0, len(cfg.CalendarPaths))
	for _, p := range cfg.CalendarPaths {
		if p != "" {
			paths = append(paths, p)
		}
	}

	return &Client{
		BaseURL:       NormalizeBaseURL(cfg.BaseURL),
		Username:      cfg.Username,
		password:      cfg.Password,
		CalendarPaths: paths,
		VerifySSL:     cfg.VerifySSL,
		Provider:      provider,
		Flavor:        flavor,
		transport:     transport,
		http:          transport.HTTP(cfg.VerifySSL),
		logger: transport.logger.WithFields(
			logging.String("provider", provider),
			logging.String("flavor", string(flavor)),
		),
		now: time.Now,
	}
}

// Profile returns the client's server profile
func (c *Client) Profile() Profile {
	return ProfileFor(c.Flavor)
}

// RefineFlavor probes the server when the URL alone gave no hint
func (c *Client) RefineFlavor(ctx context.Context) Flavor {
	if c.Flavor == Generic {
		c.Flavor = AutoDetect(ctx, c.http, c.BaseURL, c.Username, c.password, c.transport.ProbeTimeout, c.logger)
	}
	return c.Flavor
}

// TestConnection performs one authenticated PROPFIND against the account root
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	_, err := c.propfind(ctx, BuildDiscoveryURL(c.BaseURL, c.Username, c.Flavor), "0", propfindPrincipalBody)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		// Some servers only answer at the root
		_, err = c.propfind(ctx, c.BaseURL, "0", propfindPrincipalBody)
	}
	if err != nil {
		return "", err
	}

	if c.Flavor == Generic {
		return "Successfully connected to CalDAV server", nil
	}
	return fmt.Sprintf("Successfully connected to %s server", c.Profile().DisplayName), nil
}

// DiscoverCalendars lists the calendar collections of the account. The
// flavor's discovery URL is tried first, then principal and home-set lookup.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	discoveryURL := BuildDiscoveryURL(c.BaseURL, c.Username, c.Flavor)
	opts := ParseOptions{IncludeID: true}

	body, err := c.propfind(ctx, discoveryURL, "1", propfindCalendarsBody)
	if err == nil {
		calendars, perr := ParseCalendarDiscoveryResponse(body, opts)
		if perr != nil {
			return nil, perr
		}
		if len(calendars) > 0 {
			return calendars, nil
		}
	} else if !errors.IsType(err, errors.ErrTypeNotFound) {
		return nil, err
	}

	c.logger.Debug("Falling back to principal discovery", logging.String("discovery_url", discoveryURL))

	home, err := c.findCalendarHome(ctx)
	if err != nil {
		return nil, err
	}

	body, err = c.propfind(ctx, home, "1", propfindCalendarsBody)
	if err != nil {
		return nil, err
	}
	return ParseCalendarDiscoveryResponse(body, opts)
}

func (c *Client) findCalendarHome(ctx context.Context) (string, error) {
	candidates := []string{c.BaseURL, hostOf(c.BaseURL) + "/.well-known/caldav"}

	var principal string
	var lastErr error
	for _, candidate := range candidates {
		body, err := c.propfind(ctx, candidate, "0", propfindPrincipalBody)
		if err != nil {
			if errors.IsType(err, errors.ErrTypeAuth) {
				return "", err
			}
			lastErr = err
			continue
		}
		if href, ok := ParseCurrentUserPrincipal(body); ok {
			principal = resolveHref(candidate, href)
			break
		}
	}
	if principal == "" {
		if lastErr != nil {
			return "", lastErr
		}
		return "", errors.NotFoundError("current-user-principal")
	}

	body, err := c.propfind(ctx, principal, "0", propfindHomeSetBody)
	if err != nil {
		return "", err
	}
	home, ok := ParseCalendarHomeSet(body)
	if !ok {
		return "", errors.NotFoundError("calendar-home-set")
	}
	return resolveHref(principal, home), nil
}

// GetEvents returns the events of every configured calendar within
// [start, end). A zero window means the current UTC month. Calendars are
// fetched concurrently; failed calendars are skipped unless all fail.
// Events are de-duplicated by UID, first completion wins.
func (c *Client) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	if len(c.CalendarPaths) == 0 {
		return nil, errors.ConfigError(MsgNoCalendars)
	}
	if start.IsZero() || end.IsZero() {
		start, end = utils.MonthWindow(c.now())
	}

	var (
		mu       sync.Mutex
		events   []models.Event
		seen     = make(map[string]struct{})
		failures int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.transport.FetchConcurrency)

	for _, path := range c.CalendarPaths {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.transport.FetchTimeout)
			defer cancel()

			fetched, err := c.fetchCalendar(callCtx, path, start, end)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				c.logger.Warn("Calendar fetch failed",
					logging.String("calendar_path", path),
					logging.Err(err),
				)
				return nil
			}
			for _, ev := range fetched {
				if _, dup := seen[ev.UID]; dup {
					continue
				}
				seen[ev.UID] = struct{}{}
				events = append(events, ev)
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(c.CalendarPaths) {
		return nil, firstErr
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// GetCalendarEvents reads one calendar, which need not be configured on the
// client. The window defaults like GetEvents.
func (c *Client) GetCalendarEvents(ctx context.Context, path string, start, end time.Time) ([]models.Event, error) {
	if path == "" {
		return nil, errors.ValidationError("calendar path is required")
	}
	if start.IsZero() || end.IsZero() {
		start, end = utils.MonthWindow(c.now())
	}
	ctx, cancel := context.WithTimeout(ctx, c.transport.FetchTimeout)
	defer cancel()
	return c.fetchCalendar(ctx, path, start, end)
}

// fetchCalendar issues one REPORT. Failed reads are not retried here; the
// health checks back off and retry instead.
func (c *Client) fetchCalendar(ctx context.Context, path string, start, end time.Time) ([]models.Event, error) {
	body := fmt.Sprintf(calendarQueryBody,
		start.UTC().Format("20060102T150405Z"),
		end.UTC().Format("20060102T150405Z"))

	resp, err := c.http.Request(ctx, &commonhttp.RequestOptions{
		Method: "REPORT",
		URL:    BuildCalendarURL(c.BaseURL, c.Username, path, c.Flavor),
		Body:   []byte(body),
		Headers: map[string]string{
			"Content-Type": "application/xml; charset=utf-8",
			"Depth":        "1",
		},
		BasicAuth:   c.basicAuth(),
		RetryConfig: noRetry,
	})
	if err != nil {
		return nil, err
	}

	objects, err := ParseCalendarObjects(resp.Body)
	if err != nil {
		return nil, err
	}

	var events []models.Event
	for _, obj := range objects {
		decoded, err := DecodeEvents(obj.Data)
		if err != nil {
			c.logger.Debug("Skipping undecodable calendar object",
				logging.String("href", obj.Href),
				logging.Err(err),
			)
			continue
		}
		for _, ev := range decoded {
			ev.Metadata.CalendarID = path
			ev.Metadata.CalendarPath = path
			ev.Metadata.Href = obj.Href
			ev.Metadata.ETag = obj.ETag
			events = append(events, ev)
		}
	}
	return events, nil
}

// CreateEvent stores a new event in the first configured calendar. A UID is
// generated when absent.
func (c *Client) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	if len(c.CalendarPaths) == 0 {
		return models.Event{}, errors.ConfigError(MsgNoCalendars)
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	return c.putEvent(ctx, ev, true)
}

// UpdateEvent replaces the event with the given UID in the first configured calendar
func (c *Client) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	if len(c.CalendarPaths) == 0 {
		return models.Event{}, errors.ConfigError(MsgNoCalendars)
	}
	if uid == "" {
		return models.Event{}, errors.ValidationError("event uid is required")
	}
	ev.UID = uid
	return c.putEvent(ctx, ev, false)
}

func (c *Client) putEvent(ctx context.Context, ev models.Event, create bool) (models.Event, error) {
	data, err := EncodeEvent(ev, c.now())
	if err != nil {
		return models.Event{}, err
	}

	path := c.CalendarPaths[0]
	eventURL := BuildEventURL(c.BaseURL, c.Username, path, ev.UID, c.Flavor)
	headers := map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
	if create {
		headers["If-None-Match"] = "*"
	}

	resp, err := c.http.Request(ctx, &commonhttp.RequestOptions{
		Method:    http.MethodPut,
		URL:       eventURL,
		Body:      data,
		Headers:   headers,
		BasicAuth: c.basicAuth(),
	})
	if err != nil {
		return models.Event{}, err
	}

	ev.ID = ev.UID
	if ev.Status == "" {
		ev.Status = models.EventStatusConfirmed
	}
	ev.Metadata = models.EventMetadata{
		Source:       "caldav",
		CalendarID:   path,
		CalendarPath: path,
		Href:         eventURL,
		ETag:         trimETag(resp.Header.Get("ETag")),
	}
	return ev, nil
}

// DeleteEvent removes the event from the first configured calendar. With no
// calendar configured, or an already missing event, it succeeds.
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	if len(c.CalendarPaths) == 0 {
		return nil
	}
	if uid == "" {
		return errors.ValidationError("event uid is required")
	}

	_, err := c.http.Request(ctx, &commonhttp.RequestOptions{
		Method:       http.MethodDelete,
		URL:          BuildEventURL(c.BaseURL, c.Username, c.CalendarPaths[0], uid, c.Flavor),
		BasicAuth:    c.basicAuth(),
		AcceptStatus: []int{http.StatusNotFound, http.StatusGone},
	})
	return err
}

func (c *Client) propfind(ctx context.Context, target, depth, body string) ([]byte, error) {
	resp, err := c.http.Request(ctx, &commonhttp.RequestOptions{
		Method: "PROPFIND",
		URL:    target,
		Body:   []byte(body),
		Headers: map[string]string{
			"Content-Type": "application/xml; charset=utf-8",
			"Depth":        depth,
		},
		BasicAuth: c.basicAuth(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) basicAuth() *commonhttp.BasicAuth {
	if c.Username == "" && c.password == "" {
		return nil
	}
	return &commonhttp.BasicAuth{Username: c.Username, Password: c.password}
}

func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == 'W' && etag[1] == '/' {
		etag = etag[2:]
	}
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		etag = etag[1 : len(etag)-1]
	}
	return etag
}
