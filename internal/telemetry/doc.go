// Package telemetry streams radio unit events to HTTP subscribers.
//
// Events from the dispatchers (rxOpen, rxClose, txStart, txDone, txFailed,
// frame, fault) are numbered per radio and kept in a bounded replay buffer.
// Clients attach over SSE (Last-Event-ID resume) or a websocket
// (lastEventId query parameter).
package telemetry
