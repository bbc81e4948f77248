package classifier

import "strings"

var genericHints = map[Category]string{
	Auth:       "Check your username and password, then reconnect the integration.",
	Permission: "Make sure the account has access to the selected calendars.",
	Config:     "Verify the server URL and calendar paths in the integration settings.",
	Network:    "Check that the calendar server is online and reachable.",
	Timeout:    "The server may be overloaded. Try again in a few minutes.",
	RateLimit:  "Wait a few minutes before retrying.",
}

var providerHints = map[string]map[Category]string{
	"radicale": {
		Auth:    "Radicale: verify the user exists in the htpasswd file and the password matches.",
		Network: "Radicale: verify the server is running and the port is reachable (default 5232).",
		Config:  "Radicale: calendar URLs look like https://host:5232/username/calendar/.",
	},
	"nextcloud": {
		Auth:       "Nextcloud: use an app password from Settings > Security instead of your login password.",
		Permission: "Nextcloud: confirm the calendar is shared with this account.",
		Config:     "Nextcloud: the CalDAV address ends in /remote.php/dav.",
	},
	"owncloud": {
		Auth:   "ownCloud: use an app password if two-factor authentication is enabled.",
		Config: "ownCloud: the CalDAV address ends in /remote.php/dav.",
	},
	"baikal": {
		Auth:   "Baikal: check the user in the Baikal admin panel and the server's auth type (Basic or Digest).",
		Config: "Baikal: the CalDAV address ends in /dav.php.",
	},
	"sabredav": {
		Config: "SabreDAV: calendars usually live under /calendars/username/.",
	},
	"google": {
		Auth:       "Google: reconnect your Google account to refresh access.",
		Permission: "Google: grant calendar access when reconnecting your account.",
		RateLimit:  "Google: the Calendar API quota was exceeded. Syncing resumes automatically.",
	},
	"outlook": {
		Auth:       "Outlook: reconnect your Microsoft account to refresh access.",
		Permission: "Outlook: grant calendar access when reconnecting your account.",
	},
}

// RecoveryHint returns remediation text for a failure category, preferring
// provider-specific wording. It returns "" when there is nothing useful to say.
func RecoveryHint(category Category, provider string) string {
	if hints, ok := providerHints[strings.ToLower(provider)]; ok {
		if hint, ok := hints[category]; ok {
			return hint
		}
	}
	return genericHints[category]
}
