package postgres

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	URL         string
	MaxConns    int32
	PingTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("PostgreSQL URL is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("PostgreSQL URL must use the postgres:// scheme")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}

	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return nil
}
