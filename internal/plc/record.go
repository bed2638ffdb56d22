package plc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// StatusRecordSize is the length of the status record in its data block.
const StatusRecordSize = 14

// Status byte bits of the record.
const (
	statusBitEnabled = 0
	statusBitHeater  = 1
	statusBitWater   = 2
)

// StatusRecord is the controller state mirrored into a PLC data block so that
// the HMI and the slow actuation tick can read it:
//
//	DBX.DBD0   REAL  temperature
//	DBX.DBD4   REAL  power percentage
//	DBX.DBD8   REAL  target temperature
//	DBX.DBB12  BYTE  bit0 enabled, bit1 heater on, bit2 water present
type StatusRecord struct {
	Temperature  float64
	Power        float64
	Target       float64
	Enabled      bool
	HeaterOn     bool
	WaterPresent bool
}

// Encode serializes the record using S7 (big-endian) layout.
func (r StatusRecord) Encode() []byte {
	b := make([]byte, StatusRecordSize)
	binary.BigEndian.PutUint32(b[0:], math.Float32bits(float32(r.Temperature)))
	binary.BigEndian.PutUint32(b[4:], math.Float32bits(float32(r.Power)))
	binary.BigEndian.PutUint32(b[8:], math.Float32bits(float32(r.Target)))
	setBit(&b[12], statusBitEnabled, r.Enabled)
	setBit(&b[12], statusBitHeater, r.HeaterOn)
	setBit(&b[12], statusBitWater, r.WaterPresent)
	return b
}

// DecodeStatusRecord parses a record read from the data block.
func DecodeStatusRecord(b []byte) (StatusRecord, error) {
	if len(b) < StatusRecordSize {
		return StatusRecord{}, fmt.Errorf("status record: need %d bytes, got %d", StatusRecordSize, len(b))
	}
	return StatusRecord{
		Temperature:  float64(math.Float32frombits(binary.BigEndian.Uint32(b[0:]))),
		Power:        DecodePower(b[4:8]),
		Target:       float64(math.Float32frombits(binary.BigEndian.Uint32(b[8:]))),
		Enabled:      b[12]>>statusBitEnabled&1 == 1,
		HeaterOn:     b[12]>>statusBitHeater&1 == 1,
		WaterPresent: b[12]>>statusBitWater&1 == 1,
	}, nil
}

// PowerOffset is the byte offset of the power REAL within the record.
const PowerOffset = 4

// DecodePower parses the 4-byte power REAL.
func DecodePower(b []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}
