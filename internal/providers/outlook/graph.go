package outlook

import (
	"strings"
	"time"

	"calsync/internal/models"
)

// Graph returns local date-times without offset; the Prefer header pins them to UTC
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEmail struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphEmail `json:"emailAddress"`
}

type graphResponse struct {
	Response string `json:"response"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphAttendee struct {
	EmailAddress graphEmail     `json:"emailAddress"`
	Type         string         `json:"type,omitempty"`
	Status       *graphResponse `json:"status,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphEvent struct {
	ID                   string          `json:"id,omitempty"`
	ICalUID              string          `json:"iCalUId,omitempty"`
	Subject              string          `json:"subject"`
	BodyPreview          string          `json:"bodyPreview,omitempty"`
	Body                 *graphBody      `json:"body,omitempty"`
	Location             *graphLocation  `json:"location,omitempty"`
	Start                graphDateTime   `json:"start"`
	End                  graphDateTime   `json:"end"`
	IsAllDay             bool            `json:"isAllDay"`
	IsCancelled          bool            `json:"isCancelled,omitempty"`
	ShowAs               string          `json:"showAs,omitempty"`
	Organizer            *graphRecipient `json:"organizer,omitempty"`
	Attendees            []graphAttendee `json:"attendees,omitempty"`
	CreatedDateTime      string          `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string          `json:"lastModifiedDateTime,omitempty"`
	WebLink              string          `json:"webLink,omitempty"`
	ChangeKey            string          `json:"changeKey,omitempty"`
}

type graphEventPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphCalendar struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	HexColor          string `json:"hexColor"`
	IsDefaultCalendar bool   `json:"isDefaultCalendar"`
	CanEdit           bool   `json:"canEdit"`
}

type graphCalendarPage struct {
	Value    []graphCalendar `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

func parseGraphTime(dt graphDateTime) (time.Time, bool) {
	if dt.DateTime == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if dt.TimeZone != "" && !strings.EqualFold(dt.TimeZone, "UTC") {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, dt.DateTime, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func fromGraph(g graphEvent, calendarID string) (models.Event, bool) {
	start, ok := parseGraphTime(g.Start)
	if !ok {
		return models.Event{}, false
	}
	end, ok := parseGraphTime(g.End)
	if !ok {
		end = start
	}

	ev := models.Event{
		ID:          g.ID,
		UID:         g.ICalUID,
		Title:       g.Subject,
		Description: g.BodyPreview,
		Start:       start,
		End:         end,
		AllDay:      g.IsAllDay,
		Status:      models.EventStatusConfirmed,
		Transparent: g.ShowAs == "free",
		Metadata: models.EventMetadata{
			Source:     source,
			CalendarID: calendarID,
			ETag:       g.ChangeKey,
			Href:       g.WebLink,
		},
	}
	if ev.UID == "" {
		ev.UID = g.ID
	}
	if g.IsCancelled {
		ev.Status = models.EventStatusCancelled
	} else if g.ShowAs == "tentative" {
		ev.Status = models.EventStatusTentative
	}
	if g.Location != nil {
		ev.Location = g.Location.DisplayName
	}
	if t, err := time.Parse(time.RFC3339, g.CreatedDateTime); err == nil {
		ev.Created = t
	}
	if t, err := time.Parse(time.RFC3339, g.LastModifiedDateTime); err == nil {
		ev.Updated = t
	}
	if g.Organizer != nil && g.Organizer.EmailAddress.Address != "" {
		ev.Organizer = &models.Person{Email: g.Organizer.EmailAddress.Address, Name: g.Organizer.EmailAddress.Name}
	}
	for _, a := range g.Attendees {
		status := models.AttendeeStatusNeedsAction
		if a.Status != nil {
			status = attendeeStatus(a.Status.Response)
		}
		ev.Attendees = append(ev.Attendees, models.Attendee{
			Email:  a.EmailAddress.Address,
			Name:   a.EmailAddress.Name,
			Status: status,
		})
	}
	return ev, true
}

func toGraph(ev models.Event) graphEvent {
	g := graphEvent{
		Subject:  ev.Title,
		IsAllDay: ev.AllDay,
		Start:    graphDateTime{DateTime: ev.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:      graphDateTime{DateTime: ev.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
	}
	if ev.AllDay {
		g.Start.DateTime = ev.Start.Format("2006-01-02") + "T00:00:00"
		g.End.DateTime = ev.End.Format("2006-01-02") + "T00:00:00"
	}
	if ev.Description != "" {
		g.Body = &graphBody{ContentType: "text", Content: ev.Description}
	}
	if ev.Location != "" {
		g.Location = &graphLocation{DisplayName: ev.Location}
	}
	if ev.Transparent {
		g.ShowAs = "free"
	}
	for _, a := range ev.Attendees {
		g.Attendees = append(g.Attendees, graphAttendee{
			EmailAddress: graphEmail{Address: a.Email, Name: a.Name},
			Type:         "required",
		})
	}
	return g
}

func attendeeStatus(s string) string {
	switch strings.ToLower(s) {
	case "accepted", "organizer":
		return models.AttendeeStatusAccepted
	case "declined":
		return models.AttendeeStatusDeclined
	case "tentativelyaccepted":
		return models.AttendeeStatusTentative
	default:
		return models.AttendeeStatusNeedsAction
	}
}
