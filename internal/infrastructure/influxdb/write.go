package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the relay.
const (
	MeasurementTransmission = "relay_transmission"
	MeasurementQueue        = "relay_queue"
	MeasurementDutyCycle    = "relay_duty_cycle"
	MeasurementCounters     = "relay_counters"
)

// WriteTransmission records one flooded frame.
//
// Example:
//
//	client.WriteTransmission("relay-a", "bundle", 127, 0.2304, 3, 0, time.Now())
func (c *Client) WriteTransmission(node, kind string, size int, airtimeSeconds float64, gateways, skipped int, at time.Time) {
	c.WritePointWithTime(
		MeasurementTransmission,
		map[string]string{
			"node": node,
			"kind": kind,
		},
		map[string]interface{}{
			"size":            size,
			"airtime_seconds": airtimeSeconds,
			"gateways":        gateways,
			"skipped":         skipped,
		},
		at,
	)
}

// WriteQueueDepth records the state of one class queue.
func (c *Client) WriteQueueDepth(node, class string, length, capacity int, enqueued, dropped uint64, at time.Time) {
	c.WritePointWithTime(
		MeasurementQueue,
		map[string]string{
			"node":  node,
			"class": class,
		},
		map[string]interface{}{
			"length":   length,
			"capacity": capacity,
			"enqueued": enqueued,
			"dropped":  dropped,
		},
		at,
	)
}

// WriteDutyCycle records airtime consumed by one gateway on one EU868 sub-band.
func (c *Client) WriteDutyCycle(node, gateway, subBand string, usedSeconds, budgetSeconds float64, at time.Time) {
	fields := map[string]interface{}{
		"used_seconds":   usedSeconds,
		"budget_seconds": budgetSeconds,
	}
	if budgetSeconds > 0 {
		fields["utilisation"] = usedSeconds / budgetSeconds
	}
	c.WritePointWithTime(
		MeasurementDutyCycle,
		map[string]string{
			"node":     node,
			"gateway":  gateway,
			"sub_band": subBand,
		},
		fields,
		at,
	)
}

// WritePoint writes a custom point timestamped now.
//
// Example:
//
//	client.WritePoint("relay_counters",
//	    map[string]string{"node": "relay-a"},
//	    map[string]interface{}{"duplicates": 12, "relayed": 40})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
