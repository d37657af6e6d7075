// Package config implements the configuration store for the tracker radio service.
//
// Configuration is layered: built-in defaults, an optional YAML file, then
// TRACKER_* environment overrides. The merged result is validated section by
// section before any radio unit is started.
//
// Sections:
//   - timing: dispatcher poll rates, pool sizes and acquisition timeouts
//   - radios: the fixed registry of radio units and their bands
//   - geofence, beacon, api, logging
package config
