package radio

import (
	"fmt"
	"strconv"
	"strings"
)

// Frequency is an absolute frequency in Hz or one of the sentinels below.
type Frequency uint32

// Sentinel frequencies. None of them is a tunable frequency in any band.
const (
	FreqInvalid Frequency = 0
	// FreqDynamic resolves through the geofence region lookup.
	FreqDynamic Frequency = 1
	// FreqReceive reuses the unit's current receive tuning.
	FreqReceive Frequency = 2
	// FreqScan is returned by a region lookup with no region to offer.
	FreqScan Frequency = 3
)

// IsSentinel reports whether f is one of the reserved values.
func (f Frequency) IsSentinel() bool {
	return f <= FreqScan
}

func (f Frequency) String() string {
	switch f {
	case FreqInvalid:
		return "invalid"
	case FreqDynamic:
		return "dynamic"
	case FreqReceive:
		return "receive"
	case FreqScan:
		return "scan"
	}
	return strconv.FormatUint(uint64(f), 10)
}

// ParseFrequency accepts Hz, a sentinel name, or a decimal MHz value with a
// "MHz" suffix.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "dynamic":
		return FreqDynamic, nil
	case "receive":
		return FreqReceive, nil
	case "scan":
		return FreqScan, nil
	}
	if mhz := strings.TrimSuffix(s, "mhz"); mhz != s {
		v, err := strconv.ParseFloat(strings.TrimSpace(mhz), 64)
		if err != nil || v <= 0 || v*1e6 > float64(^uint32(0)) {
			return FreqInvalid, fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
		}
		return Frequency(v*1e6 + 0.5), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return FreqInvalid, fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return Frequency(v), nil
}

// Band is the tunable range of a radio. Min is inclusive, Max exclusive.
type Band struct {
	Min     Frequency `json:"min"`
	Max     Frequency `json:"max"`
	Default Frequency `json:"default"`
	Step    uint32    `json:"step"`
}

// Contains reports Min <= f < Max.
func (b Band) Contains(f Frequency) bool {
	return b.Min <= f && f < b.Max
}

// tuning is a resolved base/step/channel triple and its operating frequency.
type tuning struct {
	base    Frequency
	step    uint32
	channel uint16
	op      Frequency
}

// resolve substitutes sentinels and computes base + step*channel. It reads
// only the published receive config, so it is safe from any goroutine.
func (u *unitState) resolve(base Frequency, step uint32, channel uint16, mode Mode) (tuning, error) {
	if base == FreqReceive {
		if rx := u.rxConfig.Load(); rx != nil {
			base, step, channel = rx.Base, rx.Step, rx.Channel
		} else {
			base = FreqDynamic
		}
	}

	if base == FreqDynamic {
		base = FreqScan
		if u.region != nil {
			base = u.region.RegionFrequency()
		}
		channel = 0
		step = u.band.Step
		if base == FreqScan && mode == ModeReceive {
			base = u.band.Default
			step = u.band.Step
		}
	}

	op := uint64(base) + uint64(step)*uint64(channel)
	t := tuning{base: base, step: step, channel: channel, op: Frequency(op)}
	if op > uint64(^uint32(0)) || !u.band.Contains(t.op) {
		return tuning{}, fmt.Errorf("%w: %d Hz outside %s band [%d, %d)",
			ErrInvalidFrequency, op, u.unit, u.band.Min, u.band.Max)
	}
	return t, nil
}
