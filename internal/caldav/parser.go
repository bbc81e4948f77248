package caldav

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"calsync/internal/common/errors"
	"calsync/internal/models"

	"github.com/beevik/etree"
)

// ErrDiscoveryParse is the message returned for any unparseable discovery body
const ErrDiscoveryParse = "Failed to parse calendar discovery response"

// ParseOptions controls the entries produced from a discovery response
type ParseOptions struct {
	// IncludeID sets each entry's ID to its href
	IncludeID bool
	// Selected is the initial selected flag of every entry
	Selected bool
}

// CalendarObject is one calendar resource returned by a REPORT
type CalendarObject struct {
	Href string
	ETag string
	Data string
}

// Tolerant patterns used when the body is not well-formed XML. Any namespace
// prefix, or none, is accepted.
var (
	responsePattern     = tagPattern("response")
	hrefPattern         = tagPattern("href")
	displayNamePattern  = tagPattern("displayname")
	colorPattern        = tagPattern("calendar-color")
	etagPattern         = tagPattern("getetag")
	calendarDataPattern = tagPattern("calendar-data")
	homeSetPattern      = tagPattern("calendar-home-set")
	principalPattern    = tagPattern("current-user-principal")
	resourceTypePattern = regexp.MustCompile(`(?is)<(?:[\w.-]+:)?resourcetype\b[^>]*?(?:/>|>(.*?)</(?:[\w.-]+:)?resourcetype\s*>)`)
	calendarTypePattern = regexp.MustCompile(`(?i)<(?:[\w.-]+:)?calendar[\s/>]`)
	cdataPattern        = regexp.MustCompile(`(?s)^\s*<!\[CDATA\[(.*)\]\]>\s*$`)
)

func tagPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<(?:[\w.-]+:)?` + regexp.QuoteMeta(name) + `\b[^>]*>(.*?)</(?:[\w.-]+:)?` + regexp.QuoteMeta(name) + `\s*>`)
}

// ParseCalendarDiscoveryResponse extracts the calendar collections of a
// PROPFIND multistatus body. Non-calendar resources are skipped and a blank
// displayname falls back to the last path segment. Any failure is reported
// as ErrDiscoveryParse.
func ParseCalendarDiscoveryResponse(body []byte, opts ParseOptions) (calendars []models.CalendarEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			calendars = nil
			err = errors.InternalError(ErrDiscoveryParse, fmt.Errorf("panic: %v", r))
		}
	}()

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.InternalError(ErrDiscoveryParse, fmt.Errorf("empty body"))
	}

	doc, treeErr := readDocument(body)
	if treeErr == nil {
		if doc.Root().Tag != "multistatus" && len(doc.FindElements("//response")) == 0 {
			return nil, errors.InternalError(ErrDiscoveryParse, fmt.Errorf("unexpected root element %q", doc.Root().Tag))
		}
		return calendarsFromTree(doc, opts), nil
	}

	fragments := responsePattern.FindAllSubmatch(body, -1)
	if len(fragments) == 0 {
		return nil, errors.InternalError(ErrDiscoveryParse, treeErr)
	}
	return calendarsFromFragments(fragments, opts), nil
}

// ParseCalendarHomeSet returns the calendar-home-set href, if any
func ParseCalendarHomeSet(body []byte) (string, bool) {
	return nestedHref(body, "calendar-home-set", homeSetPattern)
}

// ParseCurrentUserPrincipal returns the current-user-principal href, if any
func ParseCurrentUserPrincipal(body []byte) (string, bool) {
	return nestedHref(body, "current-user-principal", principalPattern)
}

// IsCalendarCollection reports whether any resource in body has the
// calendar resource type
func IsCalendarCollection(body []byte) bool {
	if doc, err := readDocument(body); err == nil {
		for _, rt := range doc.FindElements("//resourcetype") {
			if rt.SelectElement("calendar") != nil {
				return true
			}
		}
		return false
	}
	for _, m := range resourceTypePattern.FindAllSubmatch(body, -1) {
		if calendarTypePattern.Match(m[1]) {
			return true
		}
	}
	return false
}

// ParseCalendarObjects extracts href, etag and calendar-data from a REPORT body
func ParseCalendarObjects(body []byte) ([]CalendarObject, error) {
	if doc, err := readDocument(body); err == nil {
		var objects []CalendarObject
		for _, resp := range doc.FindElements("//response") {
			data := resp.FindElement(".//calendar-data")
			if data == nil || strings.TrimSpace(data.Text()) == "" {
				continue
			}
			objects = append(objects, CalendarObject{
				Href: childText(resp, "href"),
				ETag: strings.Trim(descendantText(resp, "getetag"), `"`),
				Data: data.Text(),
			})
		}
		return objects, nil
	}

	fragments := responsePattern.FindAllSubmatch(body, -1)
	if len(fragments) == 0 {
		return nil, errors.InternalError("failed to parse calendar query response", nil)
	}

	var objects []CalendarObject
	for _, f := range fragments {
		data := firstMatch(calendarDataPattern, f[1])
		if strings.TrimSpace(data) == "" {
			continue
		}
		objects = append(objects, CalendarObject{
			Href: firstMatch(hrefPattern, f[1]),
			ETag: strings.Trim(firstMatch(etagPattern, f[1]), `"`),
			Data: data,
		})
	}
	return objects, nil
}

func readDocument(body []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("no root element")
	}
	return doc, nil
}

func calendarsFromTree(doc *etree.Document, opts ParseOptions) []models.CalendarEntry {
	calendars := make([]models.CalendarEntry, 0)
	for _, resp := range doc.FindElements("//response") {
		rt := resp.FindElement(".//resourcetype")
		if rt == nil || rt.SelectElement("calendar") == nil {
			continue
		}
		href := childText(resp, "href")
		calendars = append(calendars, newEntry(href, descendantText(resp, "displayname"), descendantText(resp, "calendar-color"), opts))
	}
	return calendars
}

func calendarsFromFragments(fragments [][][]byte, opts ParseOptions) []models.CalendarEntry {
	calendars := make([]models.CalendarEntry, 0)
	for _, f := range fragments {
		fragment := f[1]
		if !hasCalendarType(fragment) {
			continue
		}
		calendars = append(calendars, newEntry(
			firstMatch(hrefPattern, fragment),
			firstMatch(displayNamePattern, fragment),
			firstMatch(colorPattern, fragment),
			opts,
		))
	}
	return calendars
}

func hasCalendarType(fragment []byte) bool {
	for _, m := range resourceTypePattern.FindAllSubmatch(fragment, -1) {
		if calendarTypePattern.Match(m[1]) {
			return true
		}
	}
	return false
}

func newEntry(href, name, color string, opts ParseOptions) models.CalendarEntry {
	href = strings.TrimSpace(href)
	name = strings.TrimSpace(name)
	if name == "" {
		name = nameFromPath(href)
	}

	entry := models.CalendarEntry{
		Path:     href,
		Name:     name,
		Type:     models.CalendarTypeCalendar,
		Color:    strings.TrimSpace(color),
		Selected: opts.Selected,
	}
	if opts.IncludeID {
		entry.ID = href
	}
	return entry
}

// nameFromPath returns the last non-empty segment of href, unescaped
func nameFromPath(href string) string {
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		href = u.Path
	}
	segs := splitPath(href)
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	if unescaped, err := url.PathUnescape(last); err == nil {
		return unescaped
	}
	return last
}

func nestedHref(body []byte, container string, pattern *regexp.Regexp) (string, bool) {
	if doc, err := readDocument(body); err == nil {
		el := doc.FindElement("//" + container)
		if el == nil {
			return "", false
		}
		href := strings.TrimSpace(descendantText(el, "href"))
		return href, href != ""
	}

	inner := pattern.FindSubmatch(body)
	if inner == nil {
		return "", false
	}
	href := strings.TrimSpace(firstMatch(hrefPattern, inner[1]))
	return href, href != ""
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func descendantText(el *etree.Element, tag string) string {
	if c := el.FindElement(".//" + tag); c != nil {
		return c.Text()
	}
	return ""
}

func firstMatch(pattern *regexp.Regexp, b []byte) string {
	m := pattern.FindSubmatch(b)
	if m == nil {
		return ""
	}
	s := string(m[1])
	if c := cdataPattern.FindStringSubmatch(s); c != nil {
		return c[1]
	}
	return html.UnescapeString(s)
}
