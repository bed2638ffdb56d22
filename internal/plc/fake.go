package plc

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// FakeLink is an in-memory PLC for tests. It is safe for concurrent use so
// tests can inspect it while a control loop runs.
type FakeLink struct {
	mu sync.Mutex

	inputs  [16]byte
	outputs [16]byte
	markers [16]byte
	dbs     map[int][]byte

	// ReadError, if set, is returned by every read.
	ReadError error
	// WriteError, if set, is returned by every write.
	WriteError error
	// failReads/failWrites fail the next N operations with ErrConnection.
	failReads  int
	failWrites int

	// Writes records every write in order.
	Writes []FakeWrite
	// Reads counts read operations per area.
	Reads map[Area]int

	cpu    CPUStatus
	cfg    Config
	Closed bool

	inFlight    int
	maxInFlight int
}

// FakeWrite is one recorded write.
type FakeWrite struct {
	Area   Area
	Block  int
	Offset int
	Data   []byte
	Time   time.Time
}

// NewFakeLink creates a FakeLink with CPU status Running.
func NewFakeLink() *FakeLink {
	return &FakeLink{
		dbs:   make(map[int][]byte),
		Reads: make(map[Area]int),
		cpu:   CPURunning,
		cfg:   DefaultConfig(),
	}
}

// SetInputBit sets a bit in the input image.
func (f *FakeLink) SetInputBit(offset, bit int, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	setBit(&f.inputs[offset], bit, on)
}

// SetOutputByte sets a byte in the output image.
func (f *FakeLink) SetOutputByte(offset int, b byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[offset] = b
}

// OutputByte returns a byte of the output image.
func (f *FakeLink) OutputByte(offset int) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[offset]
}

// OutputBit returns one bit of the output image.
func (f *FakeLink) OutputBit(offset, bit int) bool {
	return f.OutputByte(offset)>>bit&1 == 1
}

// SetBlock stores data into a data block, growing it as needed.
func (f *FakeLink) SetBlock(block, offset int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(block, offset, data)
}

// SetWord stores a big-endian 16-bit word into a data block.
func (f *FakeLink) SetWord(block, offset, v int) {
	f.SetBlock(block, offset, []byte{byte(v >> 8), byte(v)})
}

// Block returns a copy of a data block region.
func (f *FakeLink) Block(block, offset, length int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, length)
	db := f.dbs[block]
	if offset < len(db) {
		copy(out, db[offset:])
	}
	return out
}

// FailReads makes the next n reads fail with a connection fault.
func (f *FakeLink) FailReads(n int) {
	f.mu.Lock()
	f.failReads = n
	f.mu.Unlock()
}

// FailWrites makes the next n writes fail with a connection fault.
func (f *FakeLink) FailWrites(n int) {
	f.mu.Lock()
	f.failWrites = n
	f.mu.Unlock()
}

// SetReadError sets ReadError under the lock.
func (f *FakeLink) SetReadError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// WriteCount returns the number of recorded writes.
func (f *FakeLink) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// WritesSnapshot returns a copy of the recorded writes.
func (f *FakeLink) WritesSnapshot() []FakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeWrite(nil), f.Writes...)
}

// ReadCount returns the number of reads in an area.
func (f *FakeLink) ReadCount(area Area) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reads[area]
}

// MaxInFlight returns the highest number of overlapping operations seen.
// Anything above 1 means the link was used without serialization.
func (f *FakeLink) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// ReadBit implements Link.
func (f *FakeLink) ReadBit(area Area, block, byteOffset, bit int) (bool, error) {
	var v byte
	var err error
	if area == AreaDB {
		var buf []byte
		buf, err = f.ReadBlock(block, byteOffset, 1)
		if err == nil {
			v = buf[0]
		}
	} else {
		v, err = f.ReadAreaByte(area, byteOffset)
	}
	return v>>bit&1 == 1, err
}

// ReadBlock implements Link.
func (f *FakeLink) ReadBlock(block, offset, length int) ([]byte, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads[AreaDB]++
	if err := f.readFault(AreaDB, block, offset); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	db := f.dbs[block]
	if offset < len(db) {
		copy(out, db[offset:])
	}
	return out, nil
}

// WriteBlock implements Link.
func (f *FakeLink) WriteBlock(block, offset int, data []byte) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFault(AreaDB, block, offset); err != nil {
		return err
	}
	f.store(block, offset, data)
	f.Writes = append(f.Writes, FakeWrite{Area: AreaDB, Block: block, Offset: offset, Data: append([]byte(nil), data...), Time: time.Now()})
	return nil
}

// ReadAreaByte implements Link.
func (f *FakeLink) ReadAreaByte(area Area, offset int) (byte, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads[area]++
	if err := f.readFault(area, 0, offset); err != nil {
		return 0, err
	}
	img, err := f.image(area, offset)
	if err != nil {
		return 0, err
	}
	return *img, nil
}

// WriteAreaByte implements Link.
func (f *FakeLink) WriteAreaByte(area Area, offset int, b byte) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFault(area, 0, offset); err != nil {
		return err
	}
	img, err := f.image(area, offset)
	if err != nil {
		return err
	}
	*img = b
	f.Writes = append(f.Writes, FakeWrite{Area: area, Offset: offset, Data: []byte{b}, Time: time.Now()})
	return nil
}

// Status implements Admin.
func (f *FakeLink) Status() (CPUStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readFault(AreaDB, 0, 0); err != nil {
		return CPUUnknown, err
	}
	return f.cpu, nil
}

// Stop implements Admin.
func (f *FakeLink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpu = CPUStopped
	return nil
}

// HotStart implements Admin.
func (f *FakeLink) HotStart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpu = CPURunning
	return nil
}

// ColdStart implements Admin.
func (f *FakeLink) ColdStart() error {
	return f.HotStart()
}

// Reconnect implements Admin.
func (f *FakeLink) Reconnect(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	if cfg.Address == "" {
		return &connError{op: "connect", err: errors.New("empty address")}
	}
	return nil
}

// Config implements Admin.
func (f *FakeLink) Config() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Close implements Admin.
func (f *FakeLink) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakeLink) enter() func() {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *FakeLink) readFault(area Area, block, offset int) error {
	if f.failReads > 0 {
		f.failReads--
		return &connError{op: "read", err: errors.New("i/o timeout")}
	}
	if f.ReadError != nil {
		return classify(f.ReadError, "read", area, block, offset)
	}
	return nil
}

func (f *FakeLink) writeFault(area Area, block, offset int) error {
	if f.failWrites > 0 {
		f.failWrites--
		return &connError{op: "write", err: errors.New("i/o timeout")}
	}
	if f.WriteError != nil {
		return classify(f.WriteError, "write", area, block, offset)
	}
	return nil
}

func (f *FakeLink) image(area Area, offset int) (*byte, error) {
	var img *[16]byte
	switch area {
	case AreaInput:
		img = &f.inputs
	case AreaOutput:
		img = &f.outputs
	case AreaMarker:
		img = &f.markers
	default:
		return nil, &IOError{Op: "access", Area: area, Offset: offset, Err: errors.New("byte access not supported")}
	}
	if offset < 0 || offset >= len(img) {
		return nil, &IOError{Op: "access", Area: area, Offset: offset, Err: fmt.Errorf("offset out of range")}
	}
	return &img[offset], nil
}

func (f *FakeLink) store(block, offset int, data []byte) {
	db := f.dbs[block]
	if need := offset + len(data); need > len(db) {
		grown := make([]byte, need)
		copy(grown, db)
		db = grown
	}
	copy(db[offset:], data)
	f.dbs[block] = db
}

func setBit(b *byte, bit int, on bool) {
	if on {
		*b |= 1 << bit
	} else {
		*b &^= 1 << bit
	}
}
