package caldav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal CalDAV server keyed by request path
type fakeServer struct {
	*httptest.Server
	requests atomic.Int32

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	bodies   map[string]string
	fallback http.HandlerFunc
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{handlers: map[string]http.HandlerFunc{}, bodies: map[string]string{}}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests.Add(1)
		body, _ := io.ReadAll(r.Body)

		fs.mu.Lock()
		fs.bodies[r.Method+" "+r.URL.Path] = string(body)
		h, ok := fs.handlers[r.Method+" "+r.URL.Path]
		if !ok && fs.fallback != nil {
			h, ok = fs.fallback, true
		}
		fs.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) handle(method, path string, h http.HandlerFunc) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handlers[method+" "+path] = h
}

func (fs *fakeServer) body(method, path string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.bodies[method+" "+path]
}

func multistatus(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func vevent(uid, summary string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//EN\r\nBEGIN:VEVENT\r\n" +
		"UID:" + uid + "\r\nDTSTAMP:20240301T080000Z\r\nDTSTART:20240305T090000Z\r\nDTEND:20240305T100000Z\r\n" +
		"SUMMARY:" + summary + "\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
}

func reportResponse(objects ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">`)
	for i, obj := range objects {
		fmt.Fprintf(&b, `<d:response><d:href>/obj/%d.ics</d:href><d:propstat><d:prop><d:getetag>"e%d"</d:getetag><cal:calendar-data>%s</cal:calendar-data></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
			i, i, strings.ReplaceAll(obj, "\r\n", "&#13;\n"))
	}
	b.WriteString(`</d:multistatus>`)
	return b.String()
}

func testTransport() *Transport {
	return NewTransport(TransportConfig{
		RequestTimeout: 5 * time.Second,
		FetchTimeout:   2 * time.Second,
		ProbeTimeout:   time.Second,
		Logger:         logging.NewNopLogger(),
	})
}

func newTestClient(fs *fakeServer, provider string, paths ...string) *Client {
	return BuildClient(Config{
		BaseURL:       fs.URL + "/",
		Username:      "alice",
		Password:      "secret",
		CalendarPaths: paths,
		VerifySSL:     true,
	}, provider, testTransport())
}

func TestBuildClient(t *testing.T) {
	c := BuildClient(Config{BaseURL: "https://cloud.x.com/remote.php/dav/", CalendarPaths: []string{"", "/a/"}}, "caldav", testTransport())
	assert.Equal(t, "https://cloud.x.com/remote.php/dav", c.BaseURL)
	assert.Equal(t, Nextcloud, c.Flavor)
	assert.Equal(t, []string{"/a/"}, c.CalendarPaths)

	pinned := BuildClient(Config{BaseURL: "https://dav.x.com"}, "baikal", testTransport())
	assert.Equal(t, Baikal, pinned.Flavor)
}

func TestGetEvents_NoCalendarsMakesNoRequests(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, "radicale")

	_, err := c.GetEvents(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, MsgNoCalendars, appErr.Message)
	assert.Equal(t, int32(0), fs.requests.Load())
}

func TestGetEvents_DeduplicatesAcrossCalendars(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("REPORT", "/cal/alice/work/", multistatus(207, reportResponse(vevent("shared", "Standup"), vevent("w1", "Review"))))
	fs.handle("REPORT", "/cal/alice/home/", multistatus(207, reportResponse(vevent("shared", "Standup"), vevent("h1", "Dentist"))))

	c := newTestClient(fs, "radicale", "/cal/alice/work/", "/cal/alice/home/")
	events, err := c.GetEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.UID]++
	}
	assert.Equal(t, map[string]int{"shared": 1, "w1": 1, "h1": 1}, counts)
	for _, ev := range events {
		assert.Equal(t, "caldav", ev.Metadata.Source)
		assert.NotEmpty(t, ev.Metadata.ETag)
	}
}

func TestGetEvents_SkipsFailedCalendars(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("REPORT", "/cal/alice/work/", multistatus(207, reportResponse(vevent("w1", "Review"))))
	fs.handle("REPORT", "/cal/alice/broken/", multistatus(500, "boom"))

	c := newTestClient(fs, "radicale", "/cal/alice/broken/", "/cal/alice/work/")
	events, err := c.GetEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "w1", events[0].UID)
}

func TestGetEvents_AllCalendarsFail(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("REPORT", "/cal/alice/a/", multistatus(401, "nope"))

	c := newTestClient(fs, "radicale", "/cal/alice/a/")
	_, err := c.GetEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
}

func TestGetCalendarEvents_GatewayErrorIsNotRetried(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("REPORT", "/cal/alice/a/", multistatus(503, "maintenance"))

	c := newTestClient(fs, "radicale", "/cal/alice/a/")
	_, err := c.GetCalendarEvents(context.Background(), "/cal/alice/a/", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
	assert.EqualValues(t, 1, fs.requests.Load(), "one REPORT, no retry")
}

func TestGetEvents_DefaultWindowIsCurrentMonth(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("REPORT", "/cal/alice/a/", multistatus(207, reportResponse()))

	c := newTestClient(fs, "radicale", "/cal/alice/a/")
	c.now = func() time.Time { return time.Date(2024, 2, 14, 15, 0, 0, 0, time.UTC) }

	events, err := c.GetEvents(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)

	body := fs.body("REPORT", "/cal/alice/a/")
	assert.Contains(t, body, `start="20240201T000000Z"`)
	assert.Contains(t, body, `end="20240301T000000Z"`)
}

func TestGetEvents_RespectsConcurrencyLimit(t *testing.T) {
	fs := newFakeServer(t)
	var inFlight, peak atomic.Int32
	slow := func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		multistatus(207, reportResponse())(w, r)
	}

	var paths []string
	for i := 0; i < 8; i++ {
		p := fmt.Sprintf("/cal/alice/c%d/", i)
		paths = append(paths, p)
		fs.handle("REPORT", p, slow)
	}

	tr := NewTransport(TransportConfig{FetchConcurrency: 2, Logger: logging.NewNopLogger()})
	c := BuildClient(Config{BaseURL: fs.URL, Username: "alice", Password: "x", CalendarPaths: paths, VerifySSL: true}, "radicale", tr)

	_, err := c.GetEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

const radicaleCalendars = `<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <response><href>/alice/</href><propstat><prop><resourcetype><collection/></resourcetype></prop></propstat></response>
  <response><href>/alice/work/</href><propstat><prop><resourcetype><collection/><C:calendar/></resourcetype><displayname>Work</displayname></prop></propstat></response>
</multistatus>`

func TestDiscoverCalendars(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("PROPFIND", "/alice/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "1", r.Header.Get("Depth"))
		multistatus(207, radicaleCalendars)(w, r)
	})

	c := newTestClient(fs, "radicale")
	calendars, err := c.DiscoverCalendars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.CalendarEntry{
		{ID: "/alice/work/", Path: "/alice/work/", Name: "Work", Type: "calendar"},
	}, calendars)
}

func TestDiscoverCalendars_PrincipalFallback(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("PROPFIND", "/", multistatus(207, `<multistatus xmlns="DAV:"><response><href>/</href><propstat><prop><current-user-principal><href>/principals/alice/</href></current-user-principal></prop></propstat></response></multistatus>`))
	fs.handle("PROPFIND", "/principals/alice/", multistatus(207, `<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:response><d:href>/principals/alice/</d:href><d:propstat><d:prop><c:calendar-home-set><d:href>/dav/alice/</d:href></c:calendar-home-set></d:prop></d:propstat></d:response></d:multistatus>`))
	fs.handle("PROPFIND", "/dav/alice/", multistatus(207, strings.ReplaceAll(radicaleCalendars, "/alice/", "/dav/alice/")))

	// Generic flavor: /calendars/alice/ is not served
	c := newTestClient(fs, "caldav")
	require.Equal(t, Generic, c.Flavor)

	calendars, err := c.DiscoverCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	assert.Equal(t, "/dav/alice/work/", calendars[0].Path)
}

func TestDiscoverCalendars_AuthFailure(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("PROPFIND", "/alice/", multistatus(401, "Unauthorized"))

	c := newTestClient(fs, "radicale")
	_, err := c.DiscoverCalendars(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
}

func TestTestConnection(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("PROPFIND", "/alice/", multistatus(207, radicaleCalendars))

	msg, err := newTestClient(fs, "radicale").TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Successfully connected to Radicale server", msg)

	fs.handle("PROPFIND", "/", multistatus(207, radicaleCalendars))
	msg, err = newTestClient(fs, "caldav").TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Successfully connected to CalDAV server", msg)
}

func TestCreateEvent(t *testing.T) {
	fs := newFakeServer(t)
	var gotPath, ifNoneMatch, contentType string
	fs.fallback = func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		ifNoneMatch = r.Header.Get("If-None-Match")
		contentType = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusCreated)
	}

	c := newTestClient(fs, "radicale", "/alice/work/")
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev, err := c.CreateEvent(context.Background(), models.Event{Title: "Call", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.UID)
	assert.Equal(t, ev.UID, ev.ID)
	assert.Equal(t, "/alice/work/"+ev.UID+".ics", gotPath)
	assert.Equal(t, "*", ifNoneMatch)
	assert.Contains(t, contentType, "text/calendar")
	assert.Equal(t, "v1", ev.Metadata.ETag)
}

func TestUpdateEvent(t *testing.T) {
	fs := newFakeServer(t)
	var ifNoneMatch string
	fs.handle(http.MethodPut, "/alice/work/abc.ics", func(w http.ResponseWriter, r *http.Request) {
		ifNoneMatch = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(fs, "radicale", "/alice/work/")
	ev, err := c.UpdateEvent(context.Background(), "abc.ics", models.Event{Title: "Moved", Start: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "abc.ics", ev.UID)
	assert.Empty(t, ifNoneMatch)
	assert.Contains(t, fs.body(http.MethodPut, "/alice/work/abc.ics"), "SUMMARY:Moved")
}

func TestWritesWithoutCalendar(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, "radicale")

	_, err := c.CreateEvent(context.Background(), models.Event{Start: time.Now()})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = c.UpdateEvent(context.Background(), "x", models.Event{Start: time.Now()})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	// Delete with nothing configured is an idempotent no-op
	assert.NoError(t, c.DeleteEvent(context.Background(), "x"))
	assert.Equal(t, int32(0), fs.requests.Load())
}

func TestDeleteEvent(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle(http.MethodDelete, "/alice/work/present.ics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(fs, "radicale", "/alice/work/")
	assert.NoError(t, c.DeleteEvent(context.Background(), "present"))
	// Missing events count as deleted
	assert.NoError(t, c.DeleteEvent(context.Background(), "missing"))
}

func TestAutoDetect(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle(http.MethodOptions, "/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Radicale/3.1.8")
		w.WriteHeader(http.StatusOK)
	})

	tr := testTransport()
	assert.Equal(t, Radicale, AutoDetect(context.Background(), tr.HTTP(true), fs.URL, "alice", "x", time.Second, nil))

	// URL markers win without a probe
	before := fs.requests.Load()
	assert.Equal(t, Nextcloud, AutoDetect(context.Background(), tr.HTTP(true), "https://cloud.x.com/remote.php/dav", "", "", time.Second, nil))
	assert.Equal(t, before, fs.requests.Load())

	// An unreachable server is generic, not an error
	fs.Close()
	assert.Equal(t, Generic, AutoDetect(context.Background(), tr.HTTP(true), fs.URL, "alice", "x", 200*time.Millisecond, nil))
}

func TestRefineFlavor(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle(http.MethodOptions, "/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "Baikal")
	})

	c := newTestClient(fs, "caldav")
	assert.Equal(t, Baikal, c.RefineFlavor(context.Background()))
	assert.Equal(t, "/dav.php/calendars/alice/", strings.TrimPrefix(BuildDiscoveryURL(c.BaseURL, c.Username, c.Flavor), fs.URL))
}
