// Package api defines ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"

	"github.com/radio-control/tracker/internal/command"
	"github.com/radio-control/tracker/internal/geofence"
	"github.com/radio-control/tracker/internal/radio"
	"github.com/radio-control/tracker/internal/telemetry"
)

// OrchestratorPort defines the minimal interface the API needs from the orchestrator.
type OrchestratorPort interface {
	Receive(ctx context.Context, radioID, action string, p command.ReceiveParams) error
	Transmit(ctx context.Context, radioID string, p command.TransmitParams) (uint32, error)
	Frequency(ctx context.Context, radioID string, q command.FrequencyQuery) (radio.Frequency, error)
	GetState(ctx context.Context, radioID string) (radio.UnitStatus, error)
	List() radio.UnitList
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ServeWS(w http.ResponseWriter, r *http.Request) error
}

// PositionPort feeds GPS fixes to the geofence.
type PositionPort interface {
	SetPosition(p geofence.Position) error
	Status() geofence.Status
}

// Compile-time assertions for port conformance
var _ OrchestratorPort = (*command.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
var _ PositionPort = (*geofence.Geofence)(nil)
