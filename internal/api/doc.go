// Package api implements the tracker's HTTP API.
//
// Routes live under /api/v1 and are served by a gorilla/mux router:
// radio registry reads, receive session actions, transmit, frequency
// resolution, the geofence position, and the telemetry stream over SSE
// or websocket. Responses use the result/data/code envelope.
package api
