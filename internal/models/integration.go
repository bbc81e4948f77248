package models

import (
	"fmt"
	"time"
)

// Kind separates calendar integrations from video-conferencing ones
type Kind string

const (
	KindCalendar Kind = "calendar"
	KindVideo    Kind = "video"
)

// Credentials are opaque to the engine and passed through to providers
type Credentials struct {
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
}

// Integration is the persisted connection between a user and an external service
type Integration struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Kind          Kind            `json:"kind"`
	Provider      string          `json:"provider"`
	Name          string          `json:"name"`
	BaseURL       string          `json:"base_url,omitempty"`
	SkipTLSVerify bool            `json:"skip_tls_verify"`
	Credentials   Credentials     `json:"-"`
	CalendarList  []CalendarEntry `json:"calendar_list"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SelectedCalendars returns the entries marked selected, in list order
func (i *Integration) SelectedCalendars() []CalendarEntry {
	var selected []CalendarEntry
	for _, c := range i.CalendarList {
		if c.Selected {
			selected = append(selected, c)
		}
	}
	return selected
}

// CalendarPaths returns the paths of the selected calendars
func (i *Integration) CalendarPaths() []string {
	var paths []string
	for _, c := range i.SelectedCalendars() {
		if c.Path != "" {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// ValidateCalendarList checks that ids are unique and every selected entry has one
func (i *Integration) ValidateCalendarList() error {
	seen := make(map[string]struct{}, len(i.CalendarList))
	for idx, c := range i.CalendarList {
		if c.ID == "" {
			if c.Selected {
				return fmt.Errorf("calendar_list[%d]: selected calendar has no id", idx)
			}
			continue
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("calendar_list[%d]: duplicate calendar id %q", idx, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// MergeCalendarList replaces the list with discovered entries while keeping
// the selected flag of entries that were already known by id. Selected
// entries missing from the discovery stay at the end of the list, since a
// partial server answer must not deselect calendars.
func MergeCalendarList(existing, discovered []CalendarEntry) []CalendarEntry {
	selected := make(map[string]bool, len(existing))
	for _, c := range existing {
		if c.ID != "" {
			selected[c.ID] = c.Selected
		}
	}

	merged := make([]CalendarEntry, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for _, c := range discovered {
		if c.ID == "" {
			c.ID = c.Path
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if sel, ok := selected[c.ID]; ok {
			c.Selected = sel
		}
		merged = append(merged, c)
	}

	for _, c := range existing {
		if c.ID == "" {
			c.ID = c.Path
		}
		if _, ok := seen[c.ID]; ok || !c.Selected || c.ID == "" {
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}
