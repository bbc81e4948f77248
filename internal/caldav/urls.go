package caldav

import (
	"net/url"
	"strings"
)

const icsSuffix = ".ics"

// NormalizeBaseURL trims whitespace and trailing slashes
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// BuildDiscoveryURL returns the collection listing the user's calendars
func BuildDiscoveryURL(base, username string, f Flavor) string {
	p := ProfileFor(f)
	return joinBase(base, fill(p.DiscoveryPath, username, "", ""))
}

// BuildCalendarURL returns the URL of one calendar collection. calendar may
// be a bare name, a server path as returned by discovery, or an absolute URL.
func BuildCalendarURL(base, username, calendar string, f Flavor) string {
	p := ProfileFor(f)

	var out string
	switch {
	case isAbsoluteURL(calendar):
		out = calendar
	case strings.HasPrefix(calendar, "/"):
		out = hostOf(base) + calendar
	default:
		out = joinBase(base, fill(p.CalendarPathPattern, username, strings.Trim(calendar, "/"), ""))
	}

	if p.RequiresCalendarSuffix && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}

// BuildEventURL returns the resource URL of an event. The UID always ends
// up with exactly one .ics suffix.
func BuildEventURL(base, username, calendar, uid string, f Flavor) string {
	name := url.PathEscape(strings.TrimSuffix(uid, icsSuffix)) + icsSuffix

	if calendar == "" {
		p := ProfileFor(f)
		// {uid}.ics is part of the pattern; substitute the escaped stem
		return joinBase(base, fill(p.EventPathPattern, username, "", strings.TrimSuffix(name, icsSuffix)))
	}

	calURL := BuildCalendarURL(base, username, calendar, f)
	if !strings.HasSuffix(calURL, "/") {
		calURL += "/"
	}
	return calURL + name
}

func fill(pattern, username, calendar, uid string) string {
	r := strings.NewReplacer(
		"{username}", url.PathEscape(username),
		"{calendar}", calendar,
		"{uid}", uid,
	)
	out := r.Replace(pattern)
	// An empty calendar leaves a double slash behind
	return strings.ReplaceAll(out, "//", "/")
}

// joinBase appends path to base, dropping any leading segments of path the
// base already ends with, so "https://h/remote.php/dav" and
// "/remote.php/dav/calendars/u/" join without repeating the prefix.
func joinBase(base, path string) string {
	base = NormalizeBaseURL(base)
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base + path
	}

	baseSegs := splitPath(u.Path)
	pathSegs := splitPath(path)

	overlap := 0
	for k := min(len(baseSegs), len(pathSegs)); k > 0; k-- {
		if equalSegs(baseSegs[len(baseSegs)-k:], pathSegs[:k]) {
			overlap = k
			break
		}
	}

	rest := strings.Join(pathSegs[overlap:], "/")
	out := base
	if rest != "" {
		out += "/" + rest
	}
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func equalSegs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// hostOf returns scheme://host of raw, or raw itself when it does not parse
func hostOf(raw string) string {
	u, err := url.Parse(NormalizeBaseURL(raw))
	if err != nil || u.Host == "" {
		return NormalizeBaseURL(raw)
	}
	return u.Scheme + "://" + u.Host
}

// resolveHref turns a server href into an absolute URL relative to base
func resolveHref(base, href string) string {
	if isAbsoluteURL(href) {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
