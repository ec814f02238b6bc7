// Package influxdb keeps the state history of items in InfluxDB.
//
// Every accepted item state is written as a point in the item_states
// measurement, tagged with the item name. Rule toggle switches use the
// history on startup to restore the last enabled/disabled choice when the
// item itself has no state yet.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry.SetHistory(client)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures are delivered to SetOnError.
package influxdb
