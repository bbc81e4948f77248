package caldav

import (
	"bytes"
	"strings"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/models"

	ics "github.com/emersion/go-ical"
)

const productID = "-//calsync//CalDAV Client//EN"

// DecodeEvents parses every VEVENT of an iCalendar object
func DecodeEvents(data string) ([]models.Event, error) {
	// XML parsers fold CRLF to LF inside calendar-data
	data = strings.TrimSpace(data) + "\n"
	data = strings.ReplaceAll(strings.ReplaceAll(data, "\r\n", "\n"), "\n", "\r\n")

	cal, err := ics.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return nil, errors.ValidationError("invalid iCalendar data").WithContext("cause", err.Error())
	}

	var events []models.Event
	for _, component := range cal.Children {
		if component.Name != ics.CompEvent {
			continue
		}
		if ev, ok := decodeVEvent(component); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// decodeVEvent converts a VEVENT; events without UID or start are skipped
func decodeVEvent(component *ics.Component) (models.Event, bool) {
	ev := models.Event{
		Status:   models.EventStatusConfirmed,
		Metadata: models.EventMetadata{Source: "caldav"},
	}

	uid := component.Props.Get(ics.PropUID)
	if uid == nil || uid.Value == "" {
		return ev, false
	}
	ev.UID = uid.Value
	ev.ID = uid.Value

	start := component.Props.Get(ics.PropDateTimeStart)
	if start == nil {
		return ev, false
	}
	t, err := propDateTime(start)
	if err != nil {
		return ev, false
	}
	ev.Start = t
	ev.AllDay = start.ValueType() == ics.ValueDate || len(start.Value) == 8

	switch {
	case component.Props.Get(ics.PropDateTimeEnd) != nil:
		if end, err := propDateTime(component.Props.Get(ics.PropDateTimeEnd)); err == nil {
			ev.End = end
		}
	case component.Props.Get(ics.PropDuration) != nil:
		if d, err := component.Props.Get(ics.PropDuration).Duration(); err == nil {
			ev.End = ev.Start.Add(d)
		}
	}
	if ev.End.IsZero() {
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start
		}
	}

	ev.Title = propText(component, ics.PropSummary)
	ev.Description = propText(component, ics.PropDescription)
	ev.Location = propText(component, ics.PropLocation)
	ev.Recurrence = propText(component, ics.PropRecurrenceRule)
	ev.Transparent = strings.EqualFold(propText(component, ics.PropTransparency), "TRANSPARENT")

	if status := propText(component, ics.PropStatus); status != "" {
		ev.Status = strings.ToLower(status)
	}

	if created, err := component.Props.DateTime(ics.PropCreated, time.UTC); err == nil {
		ev.Created = created
	}
	if modified, err := component.Props.DateTime(ics.PropLastModified, time.UTC); err == nil {
		ev.Updated = modified
	}

	if org := component.Props.Get(ics.PropOrganizer); org != nil {
		ev.Organizer = &models.Person{
			Email: trimMailto(org.Value),
			Name:  org.Params.Get(ics.ParamCommonName),
		}
	}

	for _, prop := range component.Props[ics.PropAttendee] {
		attendee := models.Attendee{
			Email:  trimMailto(prop.Value),
			Name:   prop.Params.Get(ics.ParamCommonName),
			Status: models.AttendeeStatusNeedsAction,
		}
		switch strings.ToUpper(prop.Params.Get(ics.ParamParticipationStatus)) {
		case "ACCEPTED":
			attendee.Status = models.AttendeeStatusAccepted
		case "DECLINED":
			attendee.Status = models.AttendeeStatusDeclined
		case "TENTATIVE":
			attendee.Status = models.AttendeeStatusTentative
		}
		ev.Attendees = append(ev.Attendees, attendee)
	}

	return ev, true
}

// EncodeEvent renders ev as a single-event VCALENDAR
func EncodeEvent(ev models.Event, now time.Time) ([]byte, error) {
	if ev.UID == "" {
		return nil, errors.ValidationError("event uid is required")
	}
	if ev.Start.IsZero() {
		return nil, errors.ValidationError("event start is required")
	}

	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, productID)

	event := ics.NewEvent()
	event.Props.SetText(ics.PropUID, ev.UID)
	event.Props.SetDateTime(ics.PropDateTimeStamp, now.UTC())

	end := ev.End
	if ev.AllDay {
		if end.IsZero() || !end.After(ev.Start) {
			end = ev.Start.AddDate(0, 0, 1)
		}
		event.Props.SetDate(ics.PropDateTimeStart, ev.Start)
		event.Props.SetDate(ics.PropDateTimeEnd, end)
	} else {
		if end.IsZero() {
			end = ev.Start
		}
		event.Props.SetDateTime(ics.PropDateTimeStart, ev.Start.UTC())
		event.Props.SetDateTime(ics.PropDateTimeEnd, end.UTC())
	}

	if ev.Title != "" {
		event.Props.SetText(ics.PropSummary, ev.Title)
	}
	if ev.Description != "" {
		event.Props.SetText(ics.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		event.Props.SetText(ics.PropLocation, ev.Location)
	}
	if ev.Status != "" {
		event.Props.SetText(ics.PropStatus, strings.ToUpper(ev.Status))
	}
	if ev.Transparent {
		event.Props.SetText(ics.PropTransparency, "TRANSPARENT")
	}

	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ics.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, errors.InternalError("failed to encode event", err)
	}
	return buf.Bytes(), nil
}

// propDateTime honours TZID and VALUE=DATE, and accepts bare dates some
// servers send without the VALUE parameter
func propDateTime(prop *ics.Prop) (time.Time, error) {
	t, err := prop.DateTime(time.UTC)
	if err == nil {
		return t, nil
	}
	for _, layout := range []string{"20060102", "20060102T150405"} {
		if parsed, perr := time.ParseInLocation(layout, strings.TrimSuffix(prop.Value, "Z"), time.UTC); perr == nil {
			return parsed, nil
		}
	}
	return time.Time{}, err
}

func propText(component *ics.Component, name string) string {
	if prop := component.Props.Get(name); prop != nil {
		if text, err := prop.Text(); err == nil {
			return text
		}
		return prop.Value
	}
	return ""
}

func trimMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}
