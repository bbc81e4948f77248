package caldav

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want Flavor
	}{
		{"https://cloud.x.com/remote.php/dav", Nextcloud},
		{"https://x.com:5232", Radicale},
		{"https://radicale.example.org/", Radicale},
		{"https://NEXTCLOUD.example.org", Nextcloud},
		{"https://files.example.org/owncloud/remote.php/caldav", OwnCloud},
		{"https://example.org/baikal/html/dav.php", Baikal},
		{"https://example.org/server.php", SabreDAV},
		{"https://calendar.example.org/dav", Generic},
		// Radicale wins over Nextcloud
		{"https://radicale.example.org/remote.php/dav", Radicale},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.url))
		})
	}
}

func TestDetectFromHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   Flavor
		ok     bool
	}{
		{"server radicale", http.Header{"Server": {"Radicale/3.1"}}, Radicale, true},
		{"powered by nextcloud", http.Header{"X-Powered-By": {"Nextcloud"}}, Nextcloud, true},
		{"dav header sabre", http.Header{"Dav": {"1, 3, extended-mkcol, sabredav-partial-update"}}, SabreDAV, true},
		{"baikal server", http.Header{"Server": {"Baikal"}}, Baikal, true},
		{"nothing", http.Header{"Server": {"nginx"}}, Generic, false},
		{"nil", nil, Generic, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFromHeaders(tt.header)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestProfiles(t *testing.T) {
	for _, f := range Flavors() {
		p := ProfileFor(f)
		assert.Equal(t, f, p.Flavor)
		assert.True(t, strings.Contains(p.EventPathPattern, "{uid}.ics"), "flavor %s", f)
		assert.Contains(t, p.DiscoveryPath, "{username}")
	}

	assert.Equal(t, Generic, ProfileFor("exchange").Flavor)
	assert.True(t, ProfileFor(Nextcloud).SupportsOAuth)
	assert.False(t, ProfileFor(Radicale).SupportsOAuth)
}

func TestParseFlavor(t *testing.T) {
	f, ok := ParseFlavor("Radicale")
	assert.True(t, ok)
	assert.Equal(t, Radicale, f)

	_, ok = ParseFlavor("caldav")
	assert.False(t, ok)

	f, ok = ParseFlavor("generic")
	assert.True(t, ok)
	assert.Equal(t, Generic, f)
}
