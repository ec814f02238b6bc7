package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Layout of item history points.
const (
	MeasurementItemStates = "item_states"
	TagItem               = "item"
	FieldState            = "state"
)

// RecordItemState queues one item state point. The write is batched, so a
// nil error only means the point was accepted.
func (c *Client) RecordItemState(_ context.Context, item, state string, at time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementItemStates,
		map[string]string{TagItem: item},
		map[string]interface{}{FieldState: state},
		at,
	))
	return nil
}

// HistoricItemState returns the last state recorded for item at or before
// at. ok is false when the item has no history in that window.
func (c *Client) HistoricItemState(ctx context.Context, item string, at time.Time) (string, bool, error) {
	if !c.IsConnected() {
		return "", false, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, historicStateQuery(c.cfg.Bucket, item, at))
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var (
		state string
		found bool
	)
	for result.Next() {
		if v, isString := result.Record().Value().(string); isString {
			state, found = v, true
		}
	}
	if err := result.Err(); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return state, found, nil
}

// historicStateQuery builds the Flux query for the last state at or before
// at. range() excludes its stop bound, hence the extra nanosecond.
func historicStateQuery(bucket, item string, at time.Time) string {
	stop := at.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano)
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: 0, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == %q and r.%s == %q)
  |> last()`,
		bucket, stop, MeasurementItemStates, FieldState, TagItem, item)
}
