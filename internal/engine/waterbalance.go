package engine

import (
	"math"
	"time"
)

// Daily precipitation below this fraction of ETo is assumed to evaporate entirely
const precipitationThreshold = 0.2

// DayBalance is the FAO-56 water balance of one forecast day
type DayBalance struct {
	Ks     float64 // water stress coefficient
	ETcAdj float64 // crop evapotranspiration under stress (mm)
	P      float64 // effective precipitation (mm)
	DrDay  float64 // depletion added by this day (mm)
}

// StressCoefficient returns Ks for a depletion dr given TAW and RAW over the root depth
func StressCoefficient(dr, taw, raw float64) float64 {
	if dr <= raw {
		return 1
	}
	return math.Max(0, (taw-dr)/(taw-raw))
}

// EffectivePrecipitation drops rain that is too light to reach the root zone
func EffectivePrecipitation(p, eto float64) float64 {
	if p < precipitationThreshold*eto {
		return 0
	}
	return p
}

// Balance computes one day's balance starting from depletion dr
func (c Characteristics) Balance(dr, eto, precipitation float64) DayBalance {
	ks := StressCoefficient(dr, c.TotalAvailable(), c.ReadilyAvailable())
	etc := eto * c.Kc * ks
	p := EffectivePrecipitation(precipitation, eto)
	return DayBalance{
		Ks:     ks,
		ETcAdj: etc,
		P:      p,
		DrDay:  etc - p,
	}
}

// UpdateRootZoneDepletion applies yesterday's weather (index 0) to Dr and consumes I.
//
// Simplified FAO-56 equation 85 without runoff, capillary rise and deep percolation:
//
//	Dr(i) = Dr(i-1) - P(i) - I(i) + ETc(i)
//
// Non-adaptive zones do not track depletion and are reset to zero.
func UpdateRootZoneDepletion(z *Zone, f *Forecast) {
	c := &z.Characteristics
	if !z.Schedule.Adaptive {
		c.Dr = 0
		return
	}

	b := c.Balance(c.Dr, f.Daily.ET0[0], f.Daily.Precipitation[0])

	c.Dr = round2(c.Dr - b.P - c.I + b.ETcAdj)
	c.ClampDepletion()
	c.I = 0
}

// NetIrrigationDepth returns the depth (mm) applied over the zone area by running for d
func NetIrrigationDepth(irr Irrigation, d time.Duration) float64 {
	if irr.Area <= 0 || d <= 0 {
		return 0
	}
	liters := irr.Capacity() / 3600 * d.Seconds()
	return round2(liters / irr.Area)
}

// AddNetIrrigation accounts water applied by a run of length d into I
func AddNetIrrigation(z *Zone, d time.Duration) float64 {
	if !z.Schedule.Adaptive {
		return 0
	}
	depth := NetIrrigationDepth(z.Irrigation, d)
	z.Characteristics.I += depth
	return depth
}
