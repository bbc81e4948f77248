// Package classifier maps raw provider failures onto a small taxonomy used
// for user messaging, retry pacing and health decisions.
package classifier

import (
	"context"
	stderrors "errors"
	"net"
	"regexp"
	"strings"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/utils"
)

// Category is the client-facing failure class.
type Category string

const (
	Auth       Category = "auth"
	Network    Category = "network"
	Config     Category = "config"
	Permission Category = "permission"
	Timeout    Category = "timeout"
	RateLimit  Category = "rate_limit"
	Unknown    Category = "unknown"
)

// HealthClass collapses a Category for the health engine.
type HealthClass string

const (
	Transient HealthClass = "transient"
	Hard      HealthClass = "hard"
	None      HealthClass = "none"
)

// MaxRetryDelay caps RetryDelay.
const MaxRetryDelay = 5 * time.Minute

var serverErrorPattern = regexp.MustCompile(`\b5\d\d\b`)

// Pattern lists are checked in declaration order; the first hit wins.
var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{Auth, []string{"401", "unauthorized", "unauthenticated", "authentication", "invalid credentials", "invalid_grant", "token expired", "login failed"}},
	{Permission, []string{"403", "forbidden", "permission denied", "access denied", "insufficient"}},
	{RateLimit, []string{"429", "rate limit", "rate-limit", "too many requests", "quota exceeded", "throttl"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{Network, []string{"connection refused", "connection reset", "no such host", "network", "econnrefused", "broken pipe",
		"unreachable", "temporarily unavailable", "service unavailable", "bad gateway", "tls", "x509", "certificate", "eof"}},
	{Config, []string{"404", "not found", "invalid url", "unsupported protocol", "no calendars configured", "missing", "malformed", "invalid"}},
}

// Network messages that usually clear on their own.
var transientPatterns = []string{
	"connection reset", "temporarily unavailable", "service unavailable", "bad gateway",
	"broken pipe", "unexpected eof", "502", "503", "504", "rate limited", "too many requests",
}

// Classify maps err onto a Category. A nil error is Unknown.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	if isTimeout(err) || errors.HasCode(err, errors.CodeCircuitOpen) {
		return Timeout
	}

	if appErr, ok := errors.As(err); ok {
		switch appErr.Type {
		case errors.ErrTypeAuth:
			return Auth
		case errors.ErrTypePermission:
			return Permission
		case errors.ErrTypeTimeout:
			return Timeout
		case errors.ErrTypeRateLimit:
			return RateLimit
		case errors.ErrTypeNetwork:
			return Network
		case errors.ErrTypeConfig, errors.ErrTypeValidation, errors.ErrTypeNotFound:
			return Config
		}
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

func classifyMessage(msg string) Category {
	for _, group := range categoryPatterns {
		if containsAny(msg, group.patterns) {
			return group.category
		}
	}
	if serverErrorPattern.MatchString(msg) {
		return Network
	}
	return Unknown
}

// IsTransient reports whether err is expected to clear without user action:
// timeouts, rate limits and network failures such as resets or 503s.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch Classify(err) {
	case Timeout, RateLimit:
		return true
	}

	if appErr, ok := errors.As(err); ok && appErr.StatusCode() == 429 {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), transientPatterns)
}

// ClassifyHealth collapses err for the health state machine. Only timeouts
// and rate limits are transient; every other failure is hard.
func ClassifyHealth(err error) HealthClass {
	if err == nil {
		return None
	}
	switch Classify(err) {
	case Timeout, RateLimit:
		return Transient
	default:
		return Hard
	}
}

// RetryDelay returns base(category) * attempt plus up to one second of
// jitter, capped at MaxRetryDelay. Attempts below 1 count as 1.
func RetryDelay(category Category, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := baseDelay(category)
	if time.Duration(attempt) > MaxRetryDelay/base {
		return MaxRetryDelay
	}

	delay := base*time.Duration(attempt) + utils.Jitter(time.Second)
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}

func baseDelay(category Category) time.Duration {
	switch category {
	case RateLimit:
		return 60 * time.Second
	case Timeout:
		return 5 * time.Second
	case Network:
		return 3 * time.Second
	default:
		return time.Second
	}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
