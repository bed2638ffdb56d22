package logic

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OutOfRange selects how Scale treats raw values outside the calibrated range.
type OutOfRange string

const (
	// Extrapolate continues the calibration line past both endpoints.
	Extrapolate OutOfRange = "extrapolate"
	// Clamp pins raw values to the calibrated endpoints before scaling.
	Clamp OutOfRange = "clamp"
)

// ParseOutOfRange validates a policy name. Empty selects Extrapolate.
func ParseOutOfRange(s string) (OutOfRange, error) {
	switch OutOfRange(s) {
	case "", Extrapolate:
		return Extrapolate, nil
	case Clamp:
		return Clamp, nil
	}
	return "", fmt.Errorf("unknown out-of-range policy %q (want %q or %q)", s, Extrapolate, Clamp)
}

// Scaler converts raw analog sensor units to degrees Celsius by linear
// interpolation between two calibrated endpoints.
type Scaler struct {
	RawMin  int
	RawMax  int
	TempMin float64
	TempMax float64
	Policy  OutOfRange
}

// DefaultScaler returns the calibration of a 0..27648 analog input
// wired to a -40..100 °C transmitter.
func DefaultScaler() Scaler {
	return Scaler{
		RawMin:  0,
		RawMax:  27648,
		TempMin: -40.0,
		TempMax: 100.0,
		Policy:  Extrapolate,
	}
}

// Validate reports calibrations that cannot be interpolated.
func (s Scaler) Validate() error {
	if s.RawMax == s.RawMin {
		return fmt.Errorf("scaler: raw range is empty (%d..%d)", s.RawMin, s.RawMax)
	}
	if _, err := ParseOutOfRange(string(s.Policy)); err != nil {
		return fmt.Errorf("scaler: %w", err)
	}
	return nil
}

// Scale converts a raw reading to a temperature.
func (s Scaler) Scale(raw int) float64 {
	if s.Policy == Clamp {
		lo, hi := s.RawMin, s.RawMax
		if lo > hi {
			lo, hi = hi, lo
		}
		raw = max(lo, min(hi, raw))
	}
	return s.TempMin + float64(raw-s.RawMin)*(s.TempMax-s.TempMin)/float64(s.RawMax-s.RawMin)
}

// RawWord decodes the big-endian 16-bit analog word at the start of b.
func RawWord(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("raw word: need 2 bytes, got %d", len(b))
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

// Unscale is the inverse of Scale without any out-of-range handling,
// rounded to the nearest raw unit.
func (s Scaler) Unscale(temp float64) int {
	raw := float64(s.RawMin) + (temp-s.TempMin)*float64(s.RawMax-s.RawMin)/(s.TempMax-s.TempMin)
	return int(math.Round(raw))
}
