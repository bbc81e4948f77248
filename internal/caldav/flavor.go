// Package caldav implements the CalDAV mechanics the engine needs: server
// flavor detection, URL templating, multistatus parsing, discovery and
// event CRUD against one account.
package caldav

import (
	"net/http"
	"strings"
)

// Flavor names a CalDAV server implementation with its own URL conventions
type Flavor string

const (
	Generic   Flavor = "generic"
	Radicale  Flavor = "radicale"
	Nextcloud Flavor = "nextcloud"
	OwnCloud  Flavor = "owncloud"
	Baikal    Flavor = "baikal"
	SabreDAV  Flavor = "sabredav"
)

// Profile holds the static URL conventions of a flavor
type Profile struct {
	Flavor                 Flavor
	DisplayName            string
	DiscoveryPath          string
	CalendarPathPattern    string
	EventPathPattern       string
	SupportsOAuth          bool
	SupportsCalendarColor  bool
	SupportsCalendarOrder  bool
	RequiresCalendarSuffix bool
}

// Detection order; the first match wins.
var detectionOrder = []struct {
	flavor     Flavor
	urlMarkers []string
	headerMark string
}{
	{Radicale, []string{"radicale", ":5232"}, "radicale"},
	{Nextcloud, []string{"nextcloud", "/remote.php/dav"}, "nextcloud"},
	{OwnCloud, []string{"owncloud", "/remote.php/caldav"}, "owncloud"},
	{Baikal, []string{"baikal", "/dav.php", "/cal.php"}, "baikal"},
	{SabreDAV, []string{"sabre", "/server.php"}, "sabre"},
}

var profiles = map[Flavor]Profile{
	Generic: {
		Flavor:              Generic,
		DisplayName:         "CalDAV",
		DiscoveryPath:       "/calendars/{username}/",
		CalendarPathPattern: "/calendars/{username}/{calendar}/",
		EventPathPattern:    "/calendars/{username}/{calendar}/{uid}.ics",
	},
	Radicale: {
		Flavor:                 Radicale,
		DisplayName:            "Radicale",
		DiscoveryPath:          "/{username}/",
		CalendarPathPattern:    "/{username}/{calendar}/",
		EventPathPattern:       "/{username}/{calendar}/{uid}.ics",
		SupportsCalendarColor:  true,
		RequiresCalendarSuffix: true,
	},
	Nextcloud: {
		Flavor:                 Nextcloud,
		DisplayName:            "Nextcloud",
		DiscoveryPath:          "/remote.php/dav/calendars/{username}/",
		CalendarPathPattern:    "/remote.php/dav/calendars/{username}/{calendar}/",
		EventPathPattern:       "/remote.php/dav/calendars/{username}/{calendar}/{uid}.ics",
		SupportsOAuth:          true,
		SupportsCalendarColor:  true,
		SupportsCalendarOrder:  true,
		RequiresCalendarSuffix: true,
	},
	OwnCloud: {
		Flavor:                 OwnCloud,
		DisplayName:            "ownCloud",
		DiscoveryPath:          "/remote.php/dav/calendars/{username}/",
		CalendarPathPattern:    "/remote.php/dav/calendars/{username}/{calendar}/",
		EventPathPattern:       "/remote.php/dav/calendars/{username}/{calendar}/{uid}.ics",
		SupportsOAuth:          true,
		SupportsCalendarColor:  true,
		SupportsCalendarOrder:  true,
		RequiresCalendarSuffix: true,
	},
	Baikal: {
		Flavor:                 Baikal,
		DisplayName:            "Baikal",
		DiscoveryPath:          "/dav.php/calendars/{username}/",
		CalendarPathPattern:    "/dav.php/calendars/{username}/{calendar}/",
		EventPathPattern:       "/dav.php/calendars/{username}/{calendar}/{uid}.ics",
		SupportsCalendarColor:  true,
		SupportsCalendarOrder:  true,
		RequiresCalendarSuffix: true,
	},
	SabreDAV: {
		Flavor:                 SabreDAV,
		DisplayName:            "SabreDAV",
		DiscoveryPath:          "/calendars/{username}/",
		CalendarPathPattern:    "/calendars/{username}/{calendar}/",
		EventPathPattern:       "/calendars/{username}/{calendar}/{uid}.ics",
		SupportsCalendarColor:  true,
		RequiresCalendarSuffix: true,
	},
}

// Flavors returns every known flavor, generic last
func Flavors() []Flavor {
	out := make([]Flavor, 0, len(detectionOrder)+1)
	for _, d := range detectionOrder {
		out = append(out, d.flavor)
	}
	return append(out, Generic)
}

// ParseFlavor maps a provider tag onto a flavor. Unknown tags and "caldav"
// report false.
func ParseFlavor(tag string) (Flavor, bool) {
	f := Flavor(strings.ToLower(strings.TrimSpace(tag)))
	if f == Generic {
		return Generic, true
	}
	if _, ok := profiles[f]; ok {
		return f, true
	}
	return Generic, false
}

// Detect guesses the flavor from a base URL. No match is Generic.
func Detect(rawURL string) Flavor {
	lower := strings.ToLower(rawURL)
	for _, d := range detectionOrder {
		for _, marker := range d.urlMarkers {
			if strings.Contains(lower, marker) {
				return d.flavor
			}
		}
	}
	return Generic
}

// DetectFromHeaders inspects Server, X-Powered-By and DAV response headers
func DetectFromHeaders(h http.Header) (Flavor, bool) {
	if h == nil {
		return Generic, false
	}
	values := strings.ToLower(strings.Join([]string{
		strings.Join(h.Values("Server"), " "),
		strings.Join(h.Values("X-Powered-By"), " "),
		strings.Join(h.Values("DAV"), " "),
	}, " "))

	for _, d := range detectionOrder {
		if strings.Contains(values, d.headerMark) {
			return d.flavor, true
		}
	}
	return Generic, false
}

// ProfileFor returns the profile of f, falling back to Generic
func ProfileFor(f Flavor) Profile {
	if p, ok := profiles[f]; ok {
		return p
	}
	return profiles[Generic]
}
