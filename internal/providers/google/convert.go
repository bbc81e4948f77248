package google

import (
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
)

const dateLayout = "2006-01-02"

// fromAPI converts an API event; events without a start are dropped
func fromAPI(item *calendar.Event, calendarID string) (models.Event, bool) {
	if item == nil || item.Start == nil {
		return models.Event{}, false
	}

	start, allDay, ok := parseEventTime(item.Start)
	if !ok {
		return models.Event{}, false
	}
	end := start
	if item.End != nil {
		if t, _, ok := parseEventTime(item.End); ok {
			end = t
		}
	}

	ev := models.Event{
		ID:          item.Id,
		UID:         item.ICalUID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Status:      strings.ToLower(item.Status),
		Transparent: item.Transparency == "transparent",
		Recurrence:  strings.Join(item.Recurrence, "\n"),
		Metadata: models.EventMetadata{
			Source:     source,
			CalendarID: calendarID,
			ETag:       strings.Trim(item.Etag, `"`),
			Href:       item.HtmlLink,
		},
	}
	if ev.UID == "" {
		ev.UID = item.Id
	}
	if ev.Status == "" {
		ev.Status = models.EventStatusConfirmed
	}
	if t, err := time.Parse(time.RFC3339, item.Created); err == nil {
		ev.Created = t
	}
	if t, err := time.Parse(time.RFC3339, item.Updated); err == nil {
		ev.Updated = t
	}
	if item.Organizer != nil && item.Organizer.Email != "" {
		ev.Organizer = &models.Person{Email: item.Organizer.Email, Name: item.Organizer.DisplayName}
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, models.Attendee{
			Email:  a.Email,
			Name:   a.DisplayName,
			Status: attendeeStatus(a.ResponseStatus),
		})
	}
	return ev, true
}

func toAPI(ev models.Event) *calendar.Event {
	out := &calendar.Event{
		Id:          ev.ID,
		ICalUID:     ev.UID,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
	}
	if ev.Transparent {
		out.Transparency = "transparent"
	}
	if ev.AllDay {
		out.Start = &calendar.EventDateTime{Date: ev.Start.Format(dateLayout)}
		out.End = &calendar.EventDateTime{Date: ev.End.Format(dateLayout)}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339)}
	}
	if ev.Recurrence != "" {
		out.Recurrence = strings.Split(ev.Recurrence, "\n")
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{
			Email:       a.Email,
			DisplayName: a.Name,
		})
	}
	return out
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool, bool) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err == nil
	}
	if dt.Date != "" {
		t, err := time.Parse(dateLayout, dt.Date)
		return t, true, err == nil
	}
	return time.Time{}, false, false
}

func attendeeStatus(s string) string {
	switch s {
	case "accepted":
		return models.AttendeeStatusAccepted
	case "declined":
		return models.AttendeeStatusDeclined
	case "tentative":
		return models.AttendeeStatusTentative
	default:
		return models.AttendeeStatusNeedsAction
	}
}
