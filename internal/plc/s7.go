package plc

import (
	"fmt"
	"log"
	"time"

	"github.com/robinson/gos7"
)

// S7Link talks to a Siemens S7 CPU over ISO-on-TCP.
// After a connection fault the link redials lazily on the next operation,
// at most once per ReconnectInterval.
type S7Link struct {
	cfg      Config
	handler  *gos7.TCPClientHandler
	client   gos7.Client
	lastDial time.Time
}

// NewS7Link creates a link for cfg without dialing.
func NewS7Link(cfg Config) *S7Link {
	return &S7Link{cfg: cfg}
}

// Connect dials the PLC.
func (l *S7Link) Connect() error {
	l.drop()
	l.lastDial = time.Now()

	handler := gos7.NewTCPClientHandler(l.cfg.Address, l.cfg.Rack, l.cfg.Slot)
	if l.cfg.Timeout > 0 {
		handler.Timeout = l.cfg.Timeout
	}
	if err := handler.Connect(); err != nil {
		return &connError{op: "connect", err: err}
	}
	l.handler = handler
	l.client = gos7.NewClient(handler)
	return nil
}

func (l *S7Link) ensure() error {
	if l.client != nil {
		return nil
	}
	if time.Since(l.lastDial) < l.cfg.ReconnectInterval {
		return &connError{op: "dial", err: fmt.Errorf("not connected to %s", l.cfg.Address)}
	}
	if err := l.Connect(); err != nil {
		return err
	}
	log.Printf("plc: reconnected to %s rack=%d slot=%d", l.cfg.Address, l.cfg.Rack, l.cfg.Slot)
	return nil
}

func (l *S7Link) drop() {
	if l.handler != nil {
		l.handler.Close()
	}
	l.handler = nil
	l.client = nil
}

// done classifies err and forgets the connection on a connection fault.
func (l *S7Link) done(err error, op string, area Area, block, offset int) error {
	err = classify(err, op, area, block, offset)
	if IsConnectionFault(err) {
		l.drop()
	}
	return err
}

// ReadBit implements Link.
func (l *S7Link) ReadBit(area Area, block, byteOffset, bit int) (bool, error) {
	var v byte
	var err error
	if area == AreaDB {
		var buf []byte
		buf, err = l.ReadBlock(block, byteOffset, 1)
		if err == nil {
			v = buf[0]
		}
	} else {
		v, err = l.ReadAreaByte(area, byteOffset)
	}
	if err != nil {
		return false, err
	}
	return v>>bit&1 == 1, nil
}

// ReadBlock implements Link.
func (l *S7Link) ReadBlock(block, offset, length int) ([]byte, error) {
	if err := l.ensure(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := l.client.AGReadDB(block, offset, length, buf); err != nil {
		return nil, l.done(err, "read", AreaDB, block, offset)
	}
	return buf, nil
}

// WriteBlock implements Link.
func (l *S7Link) WriteBlock(block, offset int, data []byte) error {
	if err := l.ensure(); err != nil {
		return err
	}
	if err := l.client.AGWriteDB(block, offset, len(data), data); err != nil {
		return l.done(err, "write", AreaDB, block, offset)
	}
	return nil
}

// ReadAreaByte implements Link.
func (l *S7Link) ReadAreaByte(area Area, offset int) (byte, error) {
	if err := l.ensure(); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	var err error
	switch area {
	case AreaInput:
		err = l.client.AGReadEB(offset, 1, buf)
	case AreaOutput:
		err = l.client.AGReadAB(offset, 1, buf)
	case AreaMarker:
		err = l.client.AGReadMB(offset, 1, buf)
	default:
		return 0, &IOError{Op: "read", Area: area, Offset: offset, Err: fmt.Errorf("byte access not supported")}
	}
	if err != nil {
		return 0, l.done(err, "read", area, 0, offset)
	}
	return buf[0], nil
}

// WriteAreaByte implements Link.
func (l *S7Link) WriteAreaByte(area Area, offset int, b byte) error {
	if err := l.ensure(); err != nil {
		return err
	}
	buf := []byte{b}
	var err error
	switch area {
	case AreaInput:
		err = l.client.AGWriteEB(offset, 1, buf)
	case AreaOutput:
		err = l.client.AGWriteAB(offset, 1, buf)
	case AreaMarker:
		err = l.client.AGWriteMB(offset, 1, buf)
	default:
		return &IOError{Op: "write", Area: area, Offset: offset, Err: fmt.Errorf("byte access not supported")}
	}
	if err != nil {
		return l.done(err, "write", area, 0, offset)
	}
	return nil
}

// Status implements Admin.
func (l *S7Link) Status() (CPUStatus, error) {
	if err := l.ensure(); err != nil {
		return CPUUnknown, err
	}
	st, err := l.client.PLCGetStatus()
	if err != nil {
		return CPUUnknown, l.done(err, "status", AreaDB, 0, 0)
	}
	return CPUStatus(st), nil
}

// Stop implements Admin.
func (l *S7Link) Stop() error {
	if err := l.ensure(); err != nil {
		return err
	}
	return l.done(l.client.PLCStop(), "stop", AreaDB, 0, 0)
}

// HotStart implements Admin.
func (l *S7Link) HotStart() error {
	if err := l.ensure(); err != nil {
		return err
	}
	return l.done(l.client.PLCHotStart(), "hot start", AreaDB, 0, 0)
}

// ColdStart implements Admin.
func (l *S7Link) ColdStart() error {
	if err := l.ensure(); err != nil {
		return err
	}
	return l.done(l.client.PLCColdStart(), "cold start", AreaDB, 0, 0)
}

// Reconnect implements Admin. The new address is kept even when the dial
// fails so that later redials use it.
func (l *S7Link) Reconnect(cfg Config) error {
	if cfg.Timeout == 0 {
		cfg.Timeout = l.cfg.Timeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = l.cfg.ReconnectInterval
	}
	l.cfg = cfg
	return l.Connect()
}

// Config implements Admin.
func (l *S7Link) Config() Config {
	return l.cfg
}

// Close implements Admin.
func (l *S7Link) Close() error {
	l.drop()
	return nil
}
