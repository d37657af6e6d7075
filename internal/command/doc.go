// Package command turns validated API intents into radio manager
// operations: receive session control, transmit bursts and frequency
// resolution. Every command is audited with the acting user.
package command
