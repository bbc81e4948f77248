package caldav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDiscoveryURL(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		flavor Flavor
		want   string
	}{
		{"radicale", "https://x.com:5232/", Radicale, "https://x.com:5232/alice/"},
		{"nextcloud root", "https://cloud.x.com", Nextcloud, "https://cloud.x.com/remote.php/dav/calendars/alice/"},
		{"nextcloud dav base", "https://cloud.x.com/remote.php/dav", Nextcloud, "https://cloud.x.com/remote.php/dav/calendars/alice/"},
		{"nextcloud subdir", "https://x.com/nc/remote.php/dav/", Nextcloud, "https://x.com/nc/remote.php/dav/calendars/alice/"},
		{"baikal", "https://x.com/baikal/html", Baikal, "https://x.com/baikal/html/dav.php/calendars/alice/"},
		{"generic", "https://dav.x.com", Generic, "https://dav.x.com/calendars/alice/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildDiscoveryURL(tt.base, "alice", tt.flavor))
		})
	}
}

func TestBuildCalendarURL(t *testing.T) {
	assert.Equal(t, "https://x.com:5232/alice/work/", BuildCalendarURL("https://x.com:5232", "alice", "work", Radicale))
	assert.Equal(t, "https://cloud.x.com/cal/u/personal/", BuildCalendarURL("https://cloud.x.com/remote.php/dav", "u", "/cal/u/personal/", Nextcloud))
	assert.Equal(t, "https://other.x.com/c/", BuildCalendarURL("https://x.com", "u", "https://other.x.com/c/", Generic))
	// Flavors requiring the suffix get a trailing slash
	assert.Equal(t, "https://x.com:5232/cal/u/work/", BuildCalendarURL("https://x.com:5232", "u", "/cal/u/work", Radicale))
	assert.Equal(t, "https://x.com/cal/u/work", BuildCalendarURL("https://x.com", "u", "/cal/u/work", Generic))
}

func TestBuildEventURL_AlwaysEndsWithICS(t *testing.T) {
	uids := []string{"abc", "abc.ics", "event@example.com", "with space"}

	for _, f := range Flavors() {
		for _, uid := range uids {
			for _, cal := range []string{"", "work", "/cal/u/work/"} {
				got := BuildEventURL("https://x.com", "u", cal, uid, f)
				assert.True(t, strings.HasSuffix(got, ".ics"), "%s %q %q -> %s", f, cal, uid, got)
				assert.False(t, strings.HasSuffix(got, ".ics.ics"), got)
			}
		}
	}

	assert.Equal(t, "https://x.com:5232/u/work/abc.ics", BuildEventURL("https://x.com:5232", "u", "work", "abc.ics", Radicale))
	assert.Equal(t, "https://x.com/cal/u/work/with%20space.ics", BuildEventURL("https://x.com", "u", "/cal/u/work/", "with space", Generic))
	assert.Equal(t, "https://x.com/calendars/u/abc.ics", BuildEventURL("https://x.com", "u", "", "abc", Generic))
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://x.com/dav", NormalizeBaseURL("  https://x.com/dav//  "))
}
