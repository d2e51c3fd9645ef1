// Package influxdb records store operation metrics to InfluxDB.
//
// Each engine operation becomes one point in the "operations" measurement,
// tagged with the operation name and its outcome (an envelope kind or a
// failure kind) and carrying duration_ms and rows fields.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	engine.SetRecorder(client)
//
// Writes are batched according to batch_size and flush_interval. Write
// failures are delivered asynchronously to the SetOnError callback.
package influxdb
