package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"
)

// ErrInvalidPatch is returned for settings patches that are malformed or out of range
var ErrInvalidPatch = errors.New("invalid zone patch")

// Upper bounds for user-entered cycle settings
const (
	MaxCycles   = 24
	MaxSoakTime = 86400 // seconds
)

// ZonePatch lists every zone field a user may change. Nil fields are left untouched.
type ZonePatch struct {
	ID         int   `json:"id"`
	Enabled    *bool `json:"enabled,omitempty"`
	Configured *bool `json:"configured,omitempty"`

	Characteristics *CharacteristicsPatch `json:"characteristics,omitempty"`
	Irrigation      *IrrigationPatch      `json:"irrigation,omitempty"`
	Schedule        *SchedulePatch        `json:"schedule,omitempty"`
}

// CharacteristicsPatch holds the user-editable water-balance parameters
type CharacteristicsPatch struct {
	Kc  *float64 `json:"Kc,omitempty"`
	Zr  *float64 `json:"Zr,omitempty"`
	TAW *float64 `json:"TAW,omitempty"`
	MAD *float64 `json:"MAD,omitempty"`
	Dr  *float64 `json:"Dr,omitempty"`
}

type IrrigationPatch struct {
	Area         *float64 `json:"area,omitempty"`
	EmitterCount *int     `json:"emitterCount,omitempty"`
	FlowRate     *float64 `json:"flowRate,omitempty"`
	Efficiency   *float64 `json:"efficiency,omitempty"`
	Cycles       *int     `json:"cycles,omitempty"`
	SoakTime     *int     `json:"soakTime,omitempty"`
}

type SchedulePatch struct {
	Adaptive        *bool  `json:"adaptive,omitempty"`
	SunriseOffset   *int   `json:"sunriseOffset,omitempty"`
	MinimumDuration *int   `json:"minimumDuration,omitempty"`
	DefaultDuration *int   `json:"defaultDuration,omitempty"`
	Weekdays        *[]int `json:"weekdays,omitempty"`
}

// DecodePatches reads a JSON array of zone patches, rejecting unknown fields, and
// validates each one
func DecodePatches(r io.Reader) ([]ZonePatch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var patches []ZonePatch
	if err := dec.Decode(&patches); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidPatch)
	}

	for i := range patches {
		if err := patches[i].Validate(); err != nil {
			return nil, err
		}
	}

	return patches, nil
}

// DecodePatch decodes a single patch object
func DecodePatch(data []byte) (ZonePatch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p ZonePatch
	if err := dec.Decode(&p); err != nil {
		return ZonePatch{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return p, p.Validate()
}

// Validate checks ranges and normalizes weekdays (deduplicated and sorted)
func (p *ZonePatch) Validate() error {
	if p.ID < 1 {
		return invalid("id", "must be a positive zone id")
	}

	if c := p.Characteristics; c != nil {
		switch {
		case c.Kc != nil && *c.Kc < 0:
			return invalid("characteristics.Kc", "must be >= 0")
		case c.Zr != nil && *c.Zr <= 0:
			return invalid("characteristics.Zr", "must be > 0")
		case c.TAW != nil && *c.TAW <= 0:
			return invalid("characteristics.TAW", "must be > 0")
		case c.MAD != nil && (*c.MAD < 0 || *c.MAD > 1):
			return invalid("characteristics.MAD", "must be within [0, 1]")
		case c.Dr != nil && *c.Dr < 0:
			return invalid("characteristics.Dr", "must be >= 0")
		}
	}

	if irr := p.Irrigation; irr != nil {
		switch {
		case irr.Area != nil && *irr.Area <= 0:
			return invalid("irrigation.area", "must be > 0")
		case irr.EmitterCount != nil && *irr.EmitterCount < 1:
			return invalid("irrigation.emitterCount", "must be >= 1")
		case irr.FlowRate != nil && *irr.FlowRate <= 0:
			return invalid("irrigation.flowRate", "must be > 0")
		case irr.Efficiency != nil && (*irr.Efficiency <= 0 || *irr.Efficiency > 1):
			return invalid("irrigation.efficiency", "must be within (0, 1]")
		case irr.Cycles != nil && (*irr.Cycles < 1 || *irr.Cycles > MaxCycles):
			return invalid("irrigation.cycles", fmt.Sprintf("must be within [1, %d]", MaxCycles))
		case irr.SoakTime != nil && (*irr.SoakTime < 0 || *irr.SoakTime > MaxSoakTime):
			return invalid("irrigation.soakTime", fmt.Sprintf("must be within [0, %d]", MaxSoakTime))
		}
	}

	if s := p.Schedule; s != nil {
		switch {
		case s.MinimumDuration != nil && *s.MinimumDuration < 0:
			return invalid("schedule.minimumDuration", "must be >= 0")
		case s.DefaultDuration != nil && *s.DefaultDuration <= 0:
			return invalid("schedule.defaultDuration", "must be > 0")
		}

		if s.Weekdays != nil {
			days := slices.Clone(*s.Weekdays)
			for _, d := range days {
				if d < 0 || d > 6 {
					return invalid("schedule.weekdays", fmt.Sprintf("%d is not a weekday (0-6)", d))
				}
			}
			slices.Sort(days)
			days = slices.Compact(days)
			s.Weekdays = &days
		}
	}

	return nil
}

// Apply writes the non-nil fields onto z. Dr is clamped against the resulting TAW·Zr.
//
// An entered Dr replaces the tracked depletion as of today, given in forecast-local
// time: the irrigation credit I is dropped and Dr_date moves to tomorrow so the next
// daily update does not apply today's weather on top of it.
func (p ZonePatch) Apply(z *Zone, today time.Time) {
	if p.Enabled != nil {
		z.Enabled = *p.Enabled
	}
	if p.Configured != nil {
		z.Configured = *p.Configured
	}

	if c := p.Characteristics; c != nil {
		zc := &z.Characteristics
		set(&zc.Kc, c.Kc)
		set(&zc.Zr, c.Zr)
		set(&zc.TAW, c.TAW)
		set(&zc.MAD, c.MAD)
		if c.Dr != nil {
			zc.Dr = *c.Dr
			zc.I = 0
			zc.DrDate = today.AddDate(0, 0, 1).Format(DateLayout)
		}
		zc.ClampDepletion()
	}

	if irr := p.Irrigation; irr != nil {
		zi := &z.Irrigation
		set(&zi.Area, irr.Area)
		set(&zi.EmitterCount, irr.EmitterCount)
		set(&zi.FlowRate, irr.FlowRate)
		set(&zi.Efficiency, irr.Efficiency)
		set(&zi.Cycles, irr.Cycles)
		set(&zi.SoakTime, irr.SoakTime)
	}

	if s := p.Schedule; s != nil {
		zs := &z.Schedule
		set(&zs.Adaptive, s.Adaptive)
		set(&zs.SunriseOffset, s.SunriseOffset)
		set(&zs.MinimumDuration, s.MinimumDuration)
		set(&zs.DefaultDuration, s.DefaultDuration)
		if s.Weekdays != nil {
			zs.Weekdays = slices.Clone(*s.Weekdays)
		}
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidPatch, field, reason)
}
