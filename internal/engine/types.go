package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// DateLayout is the calendar date format used for forecast days and Dr_date
const DateLayout = "2006-01-02"

// Characteristics holds the crop and soil water-balance state of a zone
type Characteristics struct {
	Kc     float64 `json:"Kc"`      // Crop coefficient
	Zr     float64 `json:"Zr"`      // Crop rooting depth (m)
	TAW    float64 `json:"TAW"`     // Total available water (mm/m)
	MAD    float64 `json:"MAD"`     // Management allowable depletion (fraction)
	Dr     float64 `json:"Dr"`      // Current root zone depletion (mm)
	DrDate string  `json:"Dr_date"` // Last Dr update (YYYY-MM-DD)
	I      float64 `json:"I"`       // Net irrigation depth since last Dr update (mm)
}

// TotalAvailable returns the total available water over the root depth (mm)
func (c Characteristics) TotalAvailable() float64 {
	return c.TAW * c.Zr
}

// ReadilyAvailable returns RAW, the depletion at which the crop starts to stress (mm)
func (c Characteristics) ReadilyAvailable() float64 {
	taw := c.TotalAvailable()
	return math.Min(taw, taw*c.MAD)
}

// ClampDepletion keeps Dr within [0, TAW·Zr]
func (c *Characteristics) ClampDepletion() {
	c.Dr = clamp(c.Dr, 0, c.TotalAvailable())
}

// Irrigation describes the hardware watering a zone
type Irrigation struct {
	Area         float64 `json:"area"`         // m^2
	EmitterCount int     `json:"emitterCount"` // emitters in the zone
	FlowRate     float64 `json:"flowRate"`     // L/h per emitter
	Efficiency   float64 `json:"efficiency"`   // fraction
	Cycles       int     `json:"cycles"`       // configured split count
	SoakTime     int     `json:"soakTime"`     // seconds between cycles
}

// Capacity returns the effective system capacity in L/h
func (i Irrigation) Capacity() float64 {
	return float64(i.EmitterCount) * i.FlowRate * i.Efficiency
}

// CycleCount returns the configured cycle count, never less than one
func (i Irrigation) CycleCount() int {
	if i.Cycles < 1 {
		return 1
	}
	return i.Cycles
}

// Window is a computed irrigation window
type Window struct {
	Start    time.Time `json:"start"`
	Duration int       `json:"duration"` // seconds of net watering, soak time excluded
}

// Schedule holds the scheduling mode and the next computed window
type Schedule struct {
	Adaptive        bool    `json:"adaptive"`
	Next            *Window `json:"next"`
	SunriseOffset   int     `json:"sunriseOffset"`   // seconds before/after sunrise a run should finish
	MinimumDuration int     `json:"minimumDuration"` // seconds
	DefaultDuration int     `json:"defaultDuration"` // seconds
	Weekdays        []int   `json:"weekdays"`        // 0 = Sunday, non-adaptive mode only
}

// HasWeekday reports whether d is one of the configured watering days
func (s Schedule) HasWeekday(d time.Weekday) bool {
	return slices.Contains(s.Weekdays, int(d))
}

// Zone is one irrigation zone and everything persisted about it
type Zone struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Sensor     bool   `json:"sensor"`
	Enabled    bool   `json:"enabled"`
	Configured bool   `json:"configured"`
	IsRunning  bool   `json:"isRunning"`

	Characteristics Characteristics `json:"characteristics"`
	Irrigation      Irrigation      `json:"irrigation"`
	Schedule        Schedule        `json:"schedule"`
}

// DefaultZone returns a zone with factory defaults
func DefaultZone(id int, name string, sensor bool) Zone {
	return Zone{
		ID:      id,
		Name:    name,
		Sensor:  sensor,
		Enabled: true,
		Characteristics: Characteristics{
			Kc:  1,
			Zr:  1.0,
			TAW: 110,
			MAD: 0.5,
		},
		Irrigation: Irrigation{
			Area:         1,
			EmitterCount: 1,
			FlowRate:     1,
			Efficiency:   0.75,
			Cycles:       2,
			SoakTime:     300,
		},
		Schedule: Schedule{
			Adaptive:        true,
			MinimumDuration: 60,
			DefaultDuration: 1800,
			Weekdays:        []int{0, 1, 2, 3, 4, 5, 6},
		},
	}
}

// Clone returns a deep copy of the zone
func (z Zone) Clone() Zone {
	cp := z
	if z.Schedule.Next != nil {
		next := *z.Schedule.Next
		cp.Schedule.Next = &next
	}
	cp.Schedule.Weekdays = slices.Clone(z.Schedule.Weekdays)
	return cp
}

// DailySeries holds daily forecast values aligned by index; index 0 is yesterday
type DailySeries struct {
	Time          []string    `json:"time"`
	Sunrise       []time.Time `json:"sunrise"`
	ET0           []float64   `json:"et0_fao_evapotranspiration"` // mm/day
	Precipitation []float64   `json:"precipitation_sum"`          // mm/day

	// Display only
	WeatherCode    []int     `json:"weather_code,omitempty"`
	TemperatureMax []float64 `json:"temperature_2m_max,omitempty"`
}

// Forecast is a daily weather forecast for the installation's location
type Forecast struct {
	Timezone         string      `json:"timezone"`
	UTCOffsetSeconds int         `json:"utc_offset_seconds"`
	FetchedAt        time.Time   `json:"fetchedAt"`
	Daily            DailySeries `json:"daily"`
}

// ErrInvalidForecast is returned by Validate for unusable forecast data
var ErrInvalidForecast = errors.New("invalid forecast")

// Validate checks the series are aligned and cover yesterday through tomorrow
func (f *Forecast) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: empty", ErrInvalidForecast)
	}
	n := len(f.Daily.Time)
	if n < 3 {
		return fmt.Errorf("%w: %d days, need at least 3", ErrInvalidForecast, n)
	}
	if len(f.Daily.Sunrise) != n || len(f.Daily.ET0) != n || len(f.Daily.Precipitation) != n {
		return fmt.Errorf("%w: daily series are not aligned", ErrInvalidForecast)
	}
	return nil
}

// Location returns the forecast's local time zone
func (f *Forecast) Location() *time.Location {
	name := f.Timezone
	if name == "" {
		name = "local"
	}
	return time.FixedZone(name, f.UTCOffsetSeconds)
}

// Days returns the number of days in the series
func (f *Forecast) Days() int {
	return len(f.Daily.Time)
}

// DateOf returns the calendar date of t at the forecast location
func (f *Forecast) DateOf(t time.Time) string {
	return t.In(f.Location()).Format(DateLayout)
}

// IndexOf returns the series index for a date, or -1
func (f *Forecast) IndexOf(date string) int {
	return slices.Index(f.Daily.Time, date)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
