// Package auth verifies bearer JWTs and enforces scopes on the tracker API.
//
// Tokens carry sub, roles and scopes claims. Viewers hold read and
// telemetry; controllers add control, which receive and transmit
// routes require.
package auth
