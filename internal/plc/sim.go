package plc

import (
	"sync"
	"time"

	"github.com/sweeney/heater-control/internal/logic"
)

// SimConfig describes the simulated tank and where its signals live in the
// PLC image.
type SimConfig struct {
	SensorDB     int
	SensorOffset int
	HeaterByte   int
	HeaterBit    int
	WaterByte    int
	WaterBit     int
	Scaler       logic.Scaler

	Ambient float64 // °C
	Initial float64 // °C
	// HeatRate is the temperature rise per second with the heater on.
	HeatRate float64
	// LossRate is the fraction of the difference to ambient lost per second.
	LossRate float64
}

// DefaultSimConfig returns a tank that reaches ~46 °C in a few minutes.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SensorDB:   1,
		HeaterByte: 0,
		HeaterBit:  1,
		WaterByte:  0,
		WaterBit:   0,
		Scaler:     logic.DefaultScaler(),
		Ambient:    18,
		Initial:    20,
		HeatRate:   0.5,
		LossRate:   0.002,
	}
}

// SimLink is a FakeLink whose sensor word follows a first-order thermal
// model driven by the heater output bit.
type SimLink struct {
	*FakeLink
	cfg SimConfig
	now func() time.Time

	mu   sync.Mutex
	temp float64
	last time.Time
}

// NewSimLink creates a simulated PLC with water present.
func NewSimLink(cfg SimConfig) *SimLink {
	s := &SimLink{
		FakeLink: NewFakeLink(),
		cfg:      cfg,
		now:      time.Now,
		temp:     cfg.Initial,
	}
	s.cfg.Scaler.Policy = logic.Extrapolate
	s.FakeLink.SetInputBit(cfg.WaterByte, cfg.WaterBit, true)
	s.publish()
	return s
}

// ReadBlock advances the model before serving the read.
func (s *SimLink) ReadBlock(block, offset, length int) ([]byte, error) {
	if block == s.cfg.SensorDB {
		s.step()
	}
	return s.FakeLink.ReadBlock(block, offset, length)
}

// WriteAreaByte advances the model under the old heater state before a write to
// the heater byte, so ON time between two sensor reads is accounted for.
func (s *SimLink) WriteAreaByte(area Area, offset int, b byte) error {
	if area == AreaOutput && offset == s.cfg.HeaterByte {
		s.step()
	}
	return s.FakeLink.WriteAreaByte(area, offset, b)
}

// Temperature returns the simulated tank temperature.
func (s *SimLink) Temperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp
}

// SetWater sets the water-presence input.
func (s *SimLink) SetWater(present bool) {
	s.FakeLink.SetInputBit(s.cfg.WaterByte, s.cfg.WaterBit, present)
}

func (s *SimLink) step() {
	now := s.now()
	heaterOn := s.FakeLink.OutputBit(s.cfg.HeaterByte, s.cfg.HeaterBit)

	s.mu.Lock()
	if !s.last.IsZero() {
		dt := now.Sub(s.last).Seconds()
		rate := -s.cfg.LossRate * (s.temp - s.cfg.Ambient)
		if heaterOn {
			rate += s.cfg.HeatRate
		}
		s.temp += rate * dt
	}
	s.last = now
	s.mu.Unlock()

	s.publish()
}

func (s *SimLink) publish() {
	s.mu.Lock()
	raw := s.cfg.Scaler.Unscale(s.temp)
	s.mu.Unlock()
	s.FakeLink.SetWord(s.cfg.SensorDB, s.cfg.SensorOffset, max(0, min(0xFFFF, raw)))
}
