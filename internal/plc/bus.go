package plc

import (
	"fmt"
	"sync"
	"time"
)

// Bus owns a Link and serializes access to it: at most one register
// operation is in flight at any time.
type Bus struct {
	mu   sync.Mutex
	link Link

	// guarded by mu
	lastOK    time.Time
	lastErr   error
	connected bool
}

// NewBus wraps link. The bus does not take over closing the link.
func NewBus(link Link) *Bus {
	return &Bus{link: link}
}

// ReadBit reads a single bit.
func (b *Bus) ReadBit(area Area, block, byteOffset, bit int) (bool, error) {
	if bit < 0 || bit > 7 {
		return false, fmt.Errorf("plc read bit: bit index %d out of range", bit)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.link.ReadBit(area, block, byteOffset, bit)
	b.record(err)
	return v, err
}

// ReadBlock reads length bytes from a data block.
func (b *Bus) ReadBlock(block, offset, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.link.ReadBlock(block, offset, length)
	b.record(err)
	return data, err
}

// WriteBlock writes data into a data block.
func (b *Bus) WriteBlock(block, offset int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.link.WriteBlock(block, offset, data)
	b.record(err)
	return err
}

// ReadAreaByte reads one byte from a non-DB area.
func (b *Bus) ReadAreaByte(area Area, offset int) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.link.ReadAreaByte(area, offset)
	b.record(err)
	return v, err
}

// ReadBytes reads n consecutive bytes from a non-DB area under one lock hold.
func (b *Bus) ReadBytes(area Area, offset, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("plc read: size %d must be positive", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		v, err := b.link.ReadAreaByte(area, offset+i)
		if err != nil {
			b.record(err)
			return nil, err
		}
		out[i] = v
	}
	b.record(nil)
	return out, nil
}

// SetBit sets or clears one bit of a byte in a non-DB area, preserving the
// other seven bits. The read and the write happen under one lock hold.
func (b *Bus) SetBit(area Area, offset, bit int, on bool) error {
	if bit < 0 || bit > 7 {
		return fmt.Errorf("plc set bit: bit index %d out of range", bit)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, err := b.link.ReadAreaByte(area, offset)
	if err != nil {
		b.record(err)
		return err
	}
	next := cur &^ (1 << bit)
	if on {
		next = cur | 1<<bit
	}
	err = b.link.WriteAreaByte(area, offset, next)
	b.record(err)
	return err
}

// Status returns the CPU operating mode.
func (b *Bus) Status() (CPUStatus, error) {
	var st CPUStatus
	err := b.admin(func(a Admin) error {
		var err error
		st, err = a.Status()
		return err
	})
	return st, err
}

// Stop puts the CPU into STOP.
func (b *Bus) Stop() error {
	return b.admin(func(a Admin) error { return a.Stop() })
}

// HotStart restarts the CPU keeping retentive data.
func (b *Bus) HotStart() error {
	return b.admin(func(a Admin) error { return a.HotStart() })
}

// ColdStart restarts the CPU from its initial values.
func (b *Bus) ColdStart() error {
	return b.admin(func(a Admin) error { return a.ColdStart() })
}

// Reconnect drops the connection and dials cfg.
func (b *Bus) Reconnect(cfg Config) error {
	return b.admin(func(a Admin) error { return a.Reconnect(cfg) })
}

// Config returns the address the link is configured for. The zero Config is
// returned for links without an Admin implementation.
func (b *Bus) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.link.(Admin); ok {
		return a.Config()
	}
	return Config{}
}

// Health reports whether the last operation succeeded, when the last
// success happened, and the last error seen.
func (b *Bus) Health() (connected bool, lastOK time.Time, lastErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected, b.lastOK, b.lastErr
}

func (b *Bus) admin(fn func(Admin) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.link.(Admin)
	if !ok {
		return ErrUnsupported
	}
	err := fn(a)
	b.record(err)
	return err
}

// record must be called with mu held.
func (b *Bus) record(err error) {
	if err == nil {
		b.connected = true
		b.lastOK = time.Now()
		return
	}
	b.lastErr = err
	if IsConnectionFault(err) {
		b.connected = false
	}
}
