package providers

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"calsync/internal/models"
)

// mockClient is a testify mock of Client
type mockClient struct {
	mock.Mock
	tag string
}

func (m *mockClient) Provider() string { return m.tag }

func (m *mockClient) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	args := m.Called(ctx, start, end)
	events, _ := args.Get(0).([]models.Event)
	return events, args.Error(1)
}

func (m *mockClient) ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	args := m.Called(ctx, start, end)
	events, _ := args.Get(0).([]models.Event)
	return events, args.Error(1)
}

func (m *mockClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error) {
	args := m.Called(ctx, calendarID, start, end)
	events, _ := args.Get(0).([]models.Event)
	return events, args.Error(1)
}

func (m *mockClient) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *mockClient) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	args := m.Called(ctx, uid, ev)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *mockClient) DeleteEvent(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockClient) TestConnection(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockClient) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	args := m.Called(ctx)
	calendars, _ := args.Get(0).([]models.CalendarEntry)
	return calendars, args.Error(1)
}

// stubProvider hands out one prepared client
type stubProvider struct {
	tag         string
	client      Client
	validateErr error
	built       int
}

func (p *stubProvider) Type() string                { return p.tag }
func (p *stubProvider) DisplayName() string         { return "Stub" }
func (p *stubProvider) ConfigSchema() []SchemaField { return nil }
func (p *stubProvider) ValidateConfig(Config) error { return p.validateErr }

func (p *stubProvider) NewClient(Config) (Client, error) {
	p.built++
	return p.client, nil
}
