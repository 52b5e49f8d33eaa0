// Package influxdb writes authentication telemetry to InfluxDB v2.
//
// Each accepted or rejected authentication becomes an auth_outcomes point
// tagged by transport and outcome; the realtime presence gauge is written
// as a presence point. Writes are non-blocking and batched, so telemetry
// never adds latency to the authentication path.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	client.WriteAuthOutcome("http", "accepted", time.Now())
package influxdb
