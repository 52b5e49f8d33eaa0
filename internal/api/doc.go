// Package api implements the HTTP API and realtime WebSocket endpoint of the
// StudySync auth core.
//
// This package provides:
//   - credential endpoints: login, refresh, logout, password change, me
//   - admin endpoints: account deactivation, revocation audit and the
//     security event log
//   - WebSocket hub with handshake authentication and presence tracking
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//   - Prometheus metrics and a JSON status snapshot
//
// # Authentication
//
// Protected HTTP routes and the WebSocket handshake both run
// auth.Authenticator, so a credential is accepted or rejected identically
// on either transport. Rejections are answered with the same JSON body:
// 401 for missing, invalid, expired or orphaned credentials and 403 for
// deactivated accounts. The handshake takes the credential from the
// Authorization header or the access_token query parameter and rejects
// before upgrading.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without MQTT, presence is only broadcast
// to WebSocket clients and account events from other services are not
// received.
package api
