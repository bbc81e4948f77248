package classifier

import (
	"strings"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
)

// User-facing messages. None of them carry server or internal detail.
const (
	MsgAuthFailed     = "Authentication failed. Please check your username and password."
	MsgAccessDenied   = "Access denied. Your account does not have permission to access this calendar."
	MsgNotFound       = "Calendar not found. Please check the server URL and calendar path."
	MsgRateLimited    = "Too many requests to the calendar server. Please wait a few minutes and try again."
	MsgServerError    = "The calendar server encountered an error. Please try again later."
	MsgTimeout        = "The connection timed out. The calendar server may be slow or unreachable."
	MsgTLS            = "Secure connection failed. Please check the server's SSL certificate."
	MsgUnreachable    = "Could not connect to the calendar server. Please check the server URL."
	MsgConfig         = "The calendar configuration is invalid. Please check your settings."
	MsgNoCalendars    = "No calendars are configured for this integration."
	MsgGenericFailure = "Unable to connect to the calendar service. Please try again later."
)

// SanitizeMessage logs err with its raw detail and returns a provider-agnostic
// message that is safe to show to users.
func SanitizeMessage(err error, provider string, logger logging.Logger) string {
	if err == nil {
		return ""
	}

	category := Classify(err)
	logging.OrGlobal(logger).Error("Calendar provider error", err,
		logging.String("provider", provider),
		logging.String("category", string(category)),
	)

	return sanitize(err, category)
}

// UserMessage is SanitizeMessage followed by the recovery hint, when one exists.
func UserMessage(err error, provider string, logger logging.Logger) string {
	msg := SanitizeMessage(err, provider, logger)
	if msg == "" {
		return ""
	}
	if hint := RecoveryHint(Classify(err), provider); hint != "" {
		return msg + " " + hint
	}
	return msg
}

func sanitize(err error, category Category) string {
	if appErr, ok := errors.As(err); ok {
		if msg := messageForStatus(appErr.StatusCode()); msg != "" {
			return msg
		}
	}

	raw := strings.ToLower(err.Error())
	switch {
	case containsAny(raw, []string{"401", "unauthorized"}):
		return MsgAuthFailed
	case containsAny(raw, []string{"403", "forbidden"}):
		return MsgAccessDenied
	case containsAny(raw, []string{"404", "not found"}):
		return MsgNotFound
	case containsAny(raw, []string{"429", "too many requests"}):
		return MsgRateLimited
	case serverErrorPattern.MatchString(raw):
		return MsgServerError
	case category == Timeout:
		return MsgTimeout
	case containsAny(raw, []string{"tls", "x509", "certificate"}):
		return MsgTLS
	case containsAny(raw, []string{"connection refused", "no such host", "dial tcp"}):
		return MsgUnreachable
	case strings.Contains(raw, "no calendars configured"):
		return MsgNoCalendars
	}

	switch category {
	case Auth:
		return MsgAuthFailed
	case Permission:
		return MsgAccessDenied
	case RateLimit:
		return MsgRateLimited
	case Config:
		return MsgConfig
	default:
		return MsgGenericFailure
	}
}

func messageForStatus(status int) string {
	switch {
	case status == 401:
		return MsgAuthFailed
	case status == 403:
		return MsgAccessDenied
	case status == 404:
		return MsgNotFound
	case status == 408:
		return MsgTimeout
	case status == 429:
		return MsgRateLimited
	case status >= 500:
		return MsgServerError
	default:
		return ""
	}
}
