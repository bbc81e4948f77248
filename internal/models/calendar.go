package models

import (
	"time"
)

// Event represents a unified calendar event structure
// regardless of source (CalDAV, Google Calendar, Outlook)
type Event struct {
	ID          string        `json:"id"`
	UID         string        `json:"uid"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	AllDay      bool          `json:"all_day"`
	Status      string        `json:"status"` // confirmed, tentative, cancelled
	Transparent bool          `json:"transparent,omitempty"`
	Organizer   *Person       `json:"organizer,omitempty"`
	Attendees   []Attendee    `json:"attendees,omitempty"`
	Recurrence  string        `json:"recurrence,omitempty"` // Raw RRULE string
	Created     time.Time     `json:"created,omitempty"`
	Updated     time.Time     `json:"updated,omitempty"`
	Metadata    EventMetadata `json:"metadata"`
}

// Busy reports whether the event blocks time for booking
func (e *Event) Busy() bool {
	return e.Status != EventStatusCancelled && !e.Transparent
}

// Person represents a person with email and name
type Person struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attendee represents an event attendee
type Attendee struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"` // accepted, declined, tentative, needs-action
}

// EventMetadata records where an event was read from
type EventMetadata struct {
	Source       string `json:"source"` // caldav, google, outlook
	CalendarID   string `json:"calendar_id,omitempty"`
	CalendarPath string `json:"calendar_path,omitempty"`
	ETag         string `json:"etag,omitempty"`
	Href         string `json:"href,omitempty"`
}

// Event status values
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// Attendee status values
const (
	AttendeeStatusAccepted    = "accepted"
	AttendeeStatusDeclined    = "declined"
	AttendeeStatusTentative   = "tentative"
	AttendeeStatusNeedsAction = "needs-action"
)

// CalendarEntry is one calendar of an integration
type CalendarEntry struct {
	ID       string            `json:"id"`
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Type     string            `json:"type,omitempty"`
	Color    string            `json:"color,omitempty"`
	Selected bool              `json:"selected"`
	Primary  bool              `json:"primary,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CalendarTypeCalendar is the type recorded for discovered calendar collections
const CalendarTypeCalendar = "calendar"
