// Package geofence maps the tracker position to the regional APRS
// frequency used for dynamic tuning.
package geofence

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/radio"
)

// Position is a GPS fix.
type Position struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

// Region is a lat/lon box with its frequency.
type Region struct {
	Name      string
	MinLat    float64
	MaxLat    float64
	MinLon    float64
	MaxLon    float64
	Frequency radio.Frequency
}

func (r Region) contains(p Position) bool {
	return p.Lat >= r.MinLat && p.Lat < r.MaxLat && p.Lon >= r.MinLon && p.Lon < r.MaxLon
}

// Geofence implements radio.RegionLookup. Regions are matched in order and
// the first box containing the position wins.
type Geofence struct {
	regions  []Region
	fallback radio.Frequency

	mu      sync.RWMutex
	fix     *Position
	current *Region
}

// New builds a geofence from config. A zero default falls back to scan.
func New(cfg config.GeofenceConfig) *Geofence {
	g := &Geofence{fallback: radio.FreqScan}
	if cfg.Default != 0 {
		g.fallback = radio.Frequency(cfg.Default)
	}
	for _, rc := range cfg.Regions {
		g.regions = append(g.regions, Region{
			Name:      rc.Name,
			MinLat:    rc.MinLat,
			MaxLat:    rc.MaxLat,
			MinLon:    rc.MinLon,
			MaxLon:    rc.MaxLon,
			Frequency: radio.Frequency(rc.Frequency),
		})
	}
	return g
}

// SetPosition records a new fix and re-evaluates the region.
func (g *Geofence) SetPosition(p Position) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("position %.5f,%.5f out of range", p.Lat, p.Lon)
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}

	var match *Region
	for i := range g.regions {
		if g.regions[i].contains(p) {
			match = &g.regions[i]
			break
		}
	}

	g.mu.Lock()
	prev := g.current
	g.fix = &p
	g.current = match
	g.mu.Unlock()

	if prev != match {
		name := "none"
		if match != nil {
			name = match.Name
		}
		log.Printf("[INFO] geofence region now %s", name)
	}
	return nil
}

// RegionFrequency returns the frequency of the current region, the
// configured default outside every region or before the first fix, and
// FreqScan when there is no default.
func (g *Geofence) RegionFrequency() radio.Frequency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current != nil {
		return g.current.Frequency
	}
	return g.fallback
}

// Status describes the geofence state.
type Status struct {
	Position  *Position       `json:"position,omitempty"`
	Region    string          `json:"region,omitempty"`
	Frequency radio.Frequency `json:"frequency"`
}

// Status returns the current fix and region.
func (g *Geofence) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Status{Frequency: g.fallback}
	if g.fix != nil {
		fix := *g.fix
		s.Position = &fix
	}
	if g.current != nil {
		s.Region = g.current.Name
		s.Frequency = g.current.Frequency
	}
	return s
}
