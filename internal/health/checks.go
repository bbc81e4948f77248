package health

import (
	"context"
	"time"

	"calsync/internal/models"
	"calsync/internal/providers"
)

// CheckWindow is how far ahead the calendar check reads
const CheckWindow = time.Hour

// CalendarCheck lists primary events for the next hour. The client is built
// with validation skipped so background checks never spend the connectivity
// probe budget.
func CalendarCheck(adapter *providers.Adapter) CheckFunc {
	return func(ctx context.Context, in *models.Integration) error {
		client, err := adapter.Client(ctx, in.Provider, providers.ConfigFromIntegration(in), true)
		if err != nil {
			return err
		}
		start := time.Now()
		_, err = client.ListPrimaryEvents(ctx, start, start.Add(CheckWindow))
		return err
	}
}
