// Package command defines ports (interfaces) for orchestrator operations.
package command

import (
	"context"
	"errors"

	"github.com/radio-control/tracker/internal/radio"
)

// RadioPort is the part of radio.Manager the orchestrator drives.
type RadioPort interface {
	OpenReceive(ctx context.Context, unit radio.Unit, mod radio.Modulation, handler radio.Handler) error
	StartReceive(ctx context.Context, unit radio.Unit, base radio.Frequency, step uint32, channel uint16, squelch uint8) error
	StopReceive(ctx context.Context, unit radio.Unit) error
	CloseReceive(ctx context.Context, unit radio.Unit) error
	Transmit(ctx context.Context, unit radio.Unit, req radio.TransmitRequest) (radio.TransmitResult, error)
	ComputeOperatingFrequency(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, mode radio.Mode) (radio.Frequency, error)
	Status(unit radio.Unit) (radio.UnitStatus, error)
	List() radio.UnitList
}

// AuditLogger receives one record per API command.
type AuditLogger interface {
	LogControlAction(ctx context.Context, action, radioID string, params map[string]interface{}, outcome string, err error)
}

// Compile-time assertion that radio.Manager implements RadioPort
var _ RadioPort = (*radio.Manager)(nil)

// ErrInvalidParameter indicates a required parameter is missing or structurally invalid.
var ErrInvalidParameter = errors.New("BAD_REQUEST")
