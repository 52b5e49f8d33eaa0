package influxdb

import "errors"

// Sentinel errors for InfluxDB operations; check with errors.Is().
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means influxdb.enabled is false; callers treat it as
	// "run without telemetry", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
