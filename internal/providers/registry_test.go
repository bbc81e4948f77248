package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"calsync/internal/caldav"
	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/ratelimit"
	"calsync/internal/models"
)

func TestConfig_AccountKey(t *testing.T) {
	cfg := Config{BaseURL: "https://Cal.Example.com:8443/dav/alice/", Username: "alice"}
	assert.Equal(t, "cal.example.com", cfg.Host())
	assert.Equal(t, "alice@cal.example.com", cfg.AccountKey())

	other := Config{BaseURL: "https://cal.example.com/other/", Username: "alice"}
	assert.Equal(t, cfg.AccountKey(), other.AccountKey())
}

func TestConfigFromIntegration(t *testing.T) {
	in := &models.Integration{
		Provider:      "radicale",
		BaseURL:       "https://r.example.com",
		SkipTLSVerify: true,
		Credentials:   models.Credentials{Username: "u", Password: "p"},
		CalendarList: []models.CalendarEntry{
			{ID: "a", Path: "/u/a/", Selected: true},
			{ID: "b", Path: "/u/b/"},
		},
	}

	cfg := ConfigFromIntegration(in)
	assert.Equal(t, []string{"/u/a/"}, cfg.CalendarPaths)
	assert.Equal(t, "u", cfg.Username)
	assert.True(t, cfg.SkipTLSVerify)
}

func TestRegistry_GetProvider(t *testing.T) {
	r := NewRegistry(nil, logging.NewNopLogger())
	for _, p := range CalDAVProviders(caldav.NewTransport(caldav.TransportConfig{Logger: logging.NewNopLogger()})) {
		r.Register(p)
	}

	assert.Equal(t, []string{"baikal", "caldav", "nextcloud", "owncloud", "radicale", "sabredav"}, r.Tags())

	p, err := r.GetProvider("nextcloud")
	require.NoError(t, err)
	assert.Equal(t, "Nextcloud", p.DisplayName())

	generic, err := r.GetProvider("caldav")
	require.NoError(t, err)
	assert.Equal(t, "CalDAV", generic.DisplayName())

	_, err = r.GetProvider("exchange")
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Unknown provider: exchange", appErr.Message)
}

func TestRegistry_CreateClientSkipValidation(t *testing.T) {
	client := &mockClient{tag: "stub"}
	stub := &stubProvider{tag: "stub", client: client, validateErr: errors.ValidationError("bad")}
	r := NewRegistry(nil, logging.NewNopLogger())
	r.Register(stub)

	got, err := r.CreateClient(context.Background(), "stub", Config{}, true)
	require.NoError(t, err)
	assert.Same(t, client, got)
	client.AssertNotCalled(t, "TestConnection", mock.Anything)
}

func TestRegistry_CreateClientValidates(t *testing.T) {
	client := &mockClient{tag: "stub"}
	stub := &stubProvider{tag: "stub", client: client, validateErr: errors.ValidationError("base_url is required")}
	r := NewRegistry(nil, logging.NewNopLogger())
	r.Register(stub)

	_, err := r.CreateClient(context.Background(), "stub", Config{}, false)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, 0, stub.built)

	stub.validateErr = nil
	client.On("TestConnection", mock.Anything).Return("", errors.AuthError("HTTP 401")).Once()
	_, err = r.CreateClient(context.Background(), "stub", Config{}, false)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))

	client.On("TestConnection", mock.Anything).Return("ok", nil).Once()
	got, err := r.CreateClient(context.Background(), "stub", Config{}, false)
	require.NoError(t, err)
	assert.Same(t, client, got)
	client.AssertExpectations(t)
}

func TestRegistry_ConnectReturnsProviderMessage(t *testing.T) {
	client := &mockClient{tag: "stub"}
	client.On("TestConnection", mock.Anything).Return("Successfully connected to Stub server", nil).Once()
	r := NewRegistry(nil, logging.NewNopLogger())
	r.Register(&stubProvider{tag: "stub", client: client})

	got, msg, err := r.Connect(context.Background(), "stub", Config{})
	require.NoError(t, err)
	assert.Same(t, client, got)
	assert.Equal(t, "Successfully connected to Stub server", msg)

	a := NewAdapter(r, nil, logging.NewNopLogger())
	client.On("TestConnection", mock.Anything).Return("", errors.AuthError("HTTP 401")).Once()
	msg, err = a.TestConnection(context.Background(), "stub", Config{})
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	assert.Empty(t, msg)
	client.AssertExpectations(t)
}

func TestRegistry_CreateClientRateLimitsProbes(t *testing.T) {
	limiter, err := ratelimit.NewLocalLimiter(ratelimit.Config{Enabled: true, MaxRequests: 1, Window: time.Hour})
	require.NoError(t, err)

	client := &mockClient{tag: "stub"}
	client.On("TestConnection", mock.Anything).Return("ok", nil)
	r := NewRegistry(limiter, logging.NewNopLogger())
	r.Register(&stubProvider{tag: "stub", client: client})

	cfg := Config{BaseURL: "https://cal.example.com", Username: "u"}
	_, err = r.CreateClient(context.Background(), "stub", cfg, false)
	require.NoError(t, err)

	_, err = r.CreateClient(context.Background(), "stub", cfg, false)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))

	// another host has its own budget
	_, err = r.CreateClient(context.Background(), "stub", Config{BaseURL: "https://other.example.com"}, false)
	assert.NoError(t, err)

	// background paths never probe
	_, err = r.CreateClient(context.Background(), "stub", cfg, true)
	assert.NoError(t, err)
	client.AssertNumberOfCalls(t, "TestConnection", 2)
}

func TestCalDAVProvider_ValidateConfig(t *testing.T) {
	p := NewCalDAVProvider("radicale", nil)

	err := p.ValidateConfig(Config{BaseURL: "not a url", Username: "u", Password: "p"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	err = p.ValidateConfig(Config{BaseURL: "https://r.example.com:5232", Username: "u"})
	assert.Error(t, err)

	err = p.ValidateConfig(Config{BaseURL: "https://r.example.com:5232", Username: "u", Password: "p", CalendarPaths: []string{""}})
	assert.Error(t, err)

	assert.NoError(t, p.ValidateConfig(Config{BaseURL: "https://r.example.com:5232", Username: "u", Password: "p"}))

	_, err = p.NewClient(Config{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestCalDAVProvider_NoCalendarsConfigured(t *testing.T) {
	p := NewCalDAVProvider("caldav", caldav.NewTransport(caldav.TransportConfig{Logger: logging.NewNopLogger()}))
	c, err := p.NewClient(Config{BaseURL: "https://cal.example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "caldav", c.Provider())

	_, err = c.GetEvents(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
	appErr, _ := errors.As(err)
	assert.Equal(t, caldav.MsgNoCalendars, appErr.Message)
}
