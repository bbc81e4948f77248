package caldav

import (
	"context"
	"net/http"
	"time"

	commonhttp "calsync/internal/common/http"
	"calsync/internal/common/logging"
)

// DefaultProbeTimeout bounds the OPTIONS capability probe
const DefaultProbeTimeout = 5 * time.Second

var noRetry = &commonhttp.RetryConfig{MaxAttempts: 1}

// AutoDetect resolves the flavor of baseURL. URL markers are tried first;
// a generic result is refined by an OPTIONS probe and its response headers.
// A failed probe yields Generic and is not an error.
func AutoDetect(ctx context.Context, client *commonhttp.HTTPClientWrapper, baseURL, username, password string, timeout time.Duration, logger logging.Logger) Flavor {
	if f := Detect(baseURL); f != Generic {
		return f
	}
	if client == nil {
		return Generic
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	logger = logging.OrGlobal(logger)

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := &commonhttp.RequestOptions{
		Method:      http.MethodOptions,
		URL:         NormalizeBaseURL(baseURL),
		RetryConfig: noRetry,
	}
	if username != "" {
		opts.BasicAuth = &commonhttp.BasicAuth{Username: username, Password: password}
	}

	// Error statuses still carry server headers, so inspect any response
	resp, err := client.Request(probeCtx, opts)
	if resp == nil {
		logger.Debug("CalDAV flavor probe failed",
			logging.String("host", hostOf(baseURL)),
			logging.Err(err),
		)
		return Generic
	}

	if f, ok := DetectFromHeaders(resp.Header); ok {
		logger.Debug("CalDAV flavor detected from headers",
			logging.String("host", hostOf(baseURL)),
			logging.String("flavor", string(f)),
		)
		return f
	}
	return Generic
}
