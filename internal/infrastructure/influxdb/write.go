package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementAuthEvents holds one point per authentication attempt.
const measurementAuthEvents = "auth_events"

// AuthEventPoint is a single authentication outcome.
//
// Event, Outcome, Method and Reason are low-cardinality tags. Identity IDs
// are never tagged: they would explode series cardinality and they are
// already in the application log.
type AuthEventPoint struct {
	Event   string
	Method  string
	Outcome string
	Reason  string
	At      time.Time
}

// WriteAuthEvent queues an authentication outcome. The write is
// non-blocking and dropped silently while disconnected.
//
// Example:
//
//	client.WriteAuthEvent(influxdb.AuthEventPoint{
//	    Event: "login", Method: "local", Outcome: "failure",
//	    Reason: "invalid_credentials", At: time.Now(),
//	})
func (c *Client) WriteAuthEvent(p AuthEventPoint) {
	tags := map[string]string{
		"event":   p.Event,
		"outcome": p.Outcome,
	}
	if p.Method != "" {
		tags["method"] = p.Method
	}
	if p.Reason != "" {
		tags["reason"] = p.Reason
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	c.WritePointWithTime(measurementAuthEvents, tags, map[string]interface{}{"count": 1}, at)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
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
