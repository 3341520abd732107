package protocol

import "github.com/chewxy/math32"

// Sanity bounds. Values exactly at a bound are accepted.
const (
	MaxTemperature       float32 = 80  // °C
	MaxTempDelta         float32 = 20  // °C
	MaxPressureDelta     float32 = 100 // Pa
	MaxHumidityDelta     float32 = 50  // %
	MaxMoistureRateDelta float32 = 20  // clocks per second
)

// SanityCheck accepts r or explains why it is a glitch. prev is the last
// accepted reading, nil when there is no baseline.
func (r EnvironmentalReport) SanityCheck(prev *EnvironmentalReport) (EnvironmentalReport, error) {
	if !finite(r.Temp) || !finite(r.Pressure) || !finite(r.Humidity) {
		return r, ErrNotFinite
	}
	if r.Temp > MaxTemperature {
		return r, ErrUnreasonablyHot
	}
	if prev == nil {
		return r, nil
	}
	if math32.Abs(prev.Temp-r.Temp) > MaxTempDelta {
		return r, ErrLargeTempDelta
	}
	if math32.Abs(prev.Pressure-r.Pressure) > MaxPressureDelta {
		return r, ErrLargePressureDelta
	}
	if math32.Abs(prev.Humidity-r.Humidity) > MaxHumidityDelta {
		return r, ErrLargeHumidityDelta
	}
	return r, nil
}

// NaN compares false against every bound, so it is rejected up front.
func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

// SanityCheck accepts r unless its channel count or any channel rate differs
// too much from prev.
func (r MoistureReport) SanityCheck(prev *MoistureReport) (MoistureReport, error) {
	if prev == nil {
		return r, nil
	}
	if len(prev.Readings) != len(r.Readings) {
		return r, ErrDifferingLengths
	}
	for n, reading := range r.Readings {
		diff := math32.Abs(reading.Rate() - prev.Readings[n].Rate())
		if diff > MaxMoistureRateDelta {
			return r, &LargeDeltaError{Sensor: n, Diff: diff}
		}
	}
	return r, nil
}

// EnvironmentalValidator keeps the baseline for environmental delta checks.
// The zero value has no baseline.
type EnvironmentalValidator struct {
	last *EnvironmentalReport
}

// Check validates r against the baseline. On success r becomes the baseline;
// on rejection the baseline is cleared.
func (v *EnvironmentalValidator) Check(r EnvironmentalReport) (EnvironmentalReport, error) {
	accepted, err := r.SanityCheck(v.last)
	if err != nil {
		v.last = nil
		return r, err
	}
	v.last = &accepted
	return accepted, nil
}

// Last returns the baseline, or nil.
func (v *EnvironmentalValidator) Last() *EnvironmentalReport {
	if v.last == nil {
		return nil
	}
	last := *v.last
	return &last
}

// MoistureValidator keeps the baseline for moisture delta checks.
type MoistureValidator struct {
	last *MoistureReport
}

// Check validates r against the baseline, replacing or clearing it.
func (v *MoistureValidator) Check(r MoistureReport) (MoistureReport, error) {
	accepted, err := r.SanityCheck(v.last)
	if err != nil {
		v.last = nil
		return r, err
	}
	baseline := MoistureReport{Readings: append([]MoistureReading(nil), accepted.Readings...)}
	v.last = &baseline
	return accepted, nil
}

// Last returns the baseline, or nil.
func (v *MoistureValidator) Last() *MoistureReport {
	if v.last == nil {
		return nil
	}
	return &MoistureReport{Readings: append([]MoistureReading(nil), v.last.Readings...)}
}
