package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the auth core.
const (
	MeasurementAuthOutcomes = "auth_outcomes"
	MeasurementPresence     = "presence"
)

// WriteAuthOutcome records one authentication decision. transport is
// "http" or "websocket"; outcome is "accepted" or a rejection kind.
// Never pass subject identifiers here; tags must stay low cardinality.
func (c *Client) WriteAuthOutcome(transport, outcome string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authOutcomePoint(transport, outcome, at))
}

// WritePresence records how many subjects currently hold a realtime connection.
func (c *Client) WritePresence(subjects int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(presencePoint(subjects, at))
}

func authOutcomePoint(transport, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuthOutcomes,
		map[string]string{
			"transport": transport,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		at,
	)
}

func presencePoint(subjects int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPresence,
		nil,
		map[string]interface{}{
			"subjects": subjects,
		},
		at,
	)
}
