package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementOperations holds one point per store operation.
const measurementOperations = "operations"

// RecordOperation writes one operation outcome. It satisfies
// store.Recorder and never blocks on the network.
func (c *Client) RecordOperation(op, outcome string, duration time.Duration, rows int64) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(operationPoint(op, outcome, duration, rows, time.Now()))
}

// operationPoint tags by op and outcome so both stay low cardinality.
// Table names and SQL text are never written.
func operationPoint(op, outcome string, duration time.Duration, rows int64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementOperations,
		map[string]string{
			"op":      op,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms": float64(duration) / float64(time.Millisecond),
			"rows":        rows,
		},
		ts,
	)
}
