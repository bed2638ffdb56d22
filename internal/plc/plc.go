// Package plc provides access to the PLC over the S7 field bus.
// Link is the raw register interface; Bus serializes every operation on a
// single connection. The real implementation uses an S7 TCP client, the fake
// and simulated implementations allow running without hardware.
package plc

import (
	"fmt"
	"time"
)

// Area identifies a PLC memory area.
type Area int

const (
	// AreaInput is the process image of inputs (PE / I).
	AreaInput Area = iota
	// AreaOutput is the process image of outputs (PA / Q).
	AreaOutput
	// AreaMarker is bit memory (M).
	AreaMarker
	// AreaDB is a data block. Reads in this area use the block number.
	AreaDB
)

func (a Area) String() string {
	switch a {
	case AreaInput:
		return "I"
	case AreaOutput:
		return "Q"
	case AreaMarker:
		return "M"
	case AreaDB:
		return "DB"
	}
	return fmt.Sprintf("Area(%d)", int(a))
}

// ParseArea accepts the Siemens mnemonics used in configuration files.
func ParseArea(s string) (Area, error) {
	switch s {
	case "I", "E", "PE", "input":
		return AreaInput, nil
	case "Q", "A", "PA", "output":
		return AreaOutput, nil
	case "M", "marker":
		return AreaMarker, nil
	case "DB", "db":
		return AreaDB, nil
	}
	return 0, fmt.Errorf("unknown PLC area %q", s)
}

// Link is a connection to a PLC. Implementations need not be safe for
// concurrent use; wrap them in a Bus.
type Link interface {
	// ReadBit returns one bit. block is only used for AreaDB.
	ReadBit(area Area, block, byteOffset, bit int) (bool, error)

	// ReadBlock reads length bytes from data block block.
	ReadBlock(block, offset, length int) ([]byte, error)

	// WriteBlock writes data into data block block.
	WriteBlock(block, offset int, data []byte) error

	// ReadAreaByte reads one byte from a non-DB area.
	ReadAreaByte(area Area, offset int) (byte, error)

	// WriteAreaByte writes one byte to a non-DB area.
	WriteAreaByte(area Area, offset int, b byte) error
}

// Admin is implemented by links that can manage the CPU and the connection.
type Admin interface {
	Status() (CPUStatus, error)
	Stop() error
	HotStart() error
	ColdStart() error
	// Reconnect drops the current connection and dials cfg.
	Reconnect(cfg Config) error
	Config() Config
	Close() error
}

// Config addresses a PLC on the network.
type Config struct {
	Address string `yaml:"address"`
	Rack    int    `yaml:"rack"`
	Slot    int    `yaml:"slot"`
	// Timeout bounds a single request.
	Timeout time.Duration `yaml:"timeout"`
	// ReconnectInterval throttles automatic redials after a connection fault.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// DefaultConfig returns the address of the plant PLC.
func DefaultConfig() Config {
	return Config{
		Address:           "192.168.0.1",
		Rack:              0,
		Slot:              2,
		Timeout:           2 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// CPUStatus is the S7 CPU operating mode.
type CPUStatus int

const (
	CPUUnknown CPUStatus = 0x00
	CPUStopped CPUStatus = 0x04
	CPURunning CPUStatus = 0x08
)

func (s CPUStatus) String() string {
	switch s {
	case CPUUnknown:
		return "Status Unknown"
	case CPURunning:
		return "Running"
	case CPUStopped:
		return "Stopped"
	}
	return "Unknown Status Code"
}
