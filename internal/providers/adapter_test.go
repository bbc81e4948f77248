package providers

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/metrics"
	"calsync/internal/models"
)

func newTestAdapter(t *testing.T, client *mockClient) (*Adapter, *metrics.Metrics, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewFromZap(zap.New(core))

	r := NewRegistry(nil, logger)
	r.Register(&stubProvider{tag: client.tag, client: client})
	m := metrics.New()
	return NewAdapter(r, m, logger), m, logs
}

func TestCall_Success(t *testing.T) {
	a, m, logs := newTestAdapter(t, &mockClient{tag: "stub"})

	got, err := Call(context.Background(), a, OpTestConnection, "stub", func(ctx context.Context) (string, error) {
		return "connected", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "connected", got)

	assert.Equal(t, 1, logs.FilterMessage("Provider call succeeded").Len())
	assert.Contains(t, collectLabels(t, m), "test_connection/stub/success")
}

func TestCall_ErrorIsLoggedAndReturned(t *testing.T) {
	a, m, logs := newTestAdapter(t, &mockClient{tag: "stub"})

	_, err := Call(context.Background(), a, OpGetEvents, "stub", func(ctx context.Context) ([]models.Event, error) {
		return nil, errors.AuthError("HTTP 401")
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))

	failed := logs.FilterMessage("Provider call failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "get_events", failed[0].ContextMap()["operation"])
	assert.Equal(t, "authentication", failed[0].ContextMap()["error_type"])
	assert.Contains(t, collectLabels(t, m), "get_events/stub/error")
}

func TestCall_RecoversPanics(t *testing.T) {
	a, _, _ := newTestAdapter(t, &mockClient{tag: "stub"})

	got, err := Call(context.Background(), a, OpDiscoverCalendars, "stub", func(ctx context.Context) ([]models.CalendarEntry, error) {
		panic("nil map write")
	})
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	assert.Contains(t, stderrors.Unwrap(err).Error(), "nil map write")
}

func TestAdapter_InstrumentedClient(t *testing.T) {
	client := &mockClient{tag: "stub"}
	a, m, _ := newTestAdapter(t, client)

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	client.On("ListPrimaryEvents", mock.Anything, start, end).Return([]models.Event{{ID: "e1"}}, nil)
	client.On("DeleteEvent", mock.Anything, "gone").Return(nil)
	client.On("ListEvents", mock.Anything, "cal", start, end).Return(nil, errors.TimeoutError("fetch"))

	c, err := a.Client(context.Background(), "stub", Config{}, true)
	require.NoError(t, err)
	assert.Equal(t, "stub", c.Provider())

	events, err := c.ListPrimaryEvents(context.Background(), start, end)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.NoError(t, c.DeleteEvent(context.Background(), "gone"))

	_, err = c.ListEvents(context.Background(), "cal", start, end)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	labels := collectLabels(t, m)
	assert.Contains(t, labels, "new_client/stub/success")
	assert.Contains(t, labels, "list_primary_events/stub/success")
	assert.Contains(t, labels, "delete_event/stub/success")
	assert.Contains(t, labels, "list_events/stub/error")
	client.AssertExpectations(t)
}

func TestAdapter_UnknownProvider(t *testing.T) {
	a, m, _ := newTestAdapter(t, &mockClient{tag: "stub"})

	_, err := a.Client(context.Background(), "nope", Config{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown provider: nope")
	assert.Equal(t, []string{"new_client/nope/error"}, collectLabels(t, m))
}

// collectLabels lists operation/provider/outcome triples with observations
func collectLabels(t *testing.T, m *metrics.Metrics) []string {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var out []string
	for _, f := range families {
		if f.GetName() != "calsync_provider_call_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			out = append(out, labels["operation"]+"/"+labels["provider"]+"/"+labels["outcome"])
		}
	}
	return out
}
