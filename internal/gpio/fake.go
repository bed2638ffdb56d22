package gpio

import (
	"errors"
	"sync"
)

// FakeInput is a test double that returns scripted input levels.
// It is safe for concurrent use.
type FakeInput struct {
	mu sync.Mutex

	// Samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a single constant level.
func (f *FakeInput) Set(v bool) {
	f.mu.Lock()
	f.Samples = []bool{v}
	f.index = 0
	f.mu.Unlock()
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeOutput is a test double that records every level written.
// It is safe for concurrent use.
type FakeOutput struct {
	mu sync.Mutex

	// Levels records every successful Set in order.
	Levels []bool

	// SetError, if set, will be returned by Set()
	SetError error

	Closed bool
}

// Set records the level.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Levels = append(f.Levels, on)
	return nil
}

// Level returns the last level written, false if none.
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Levels) == 0 {
		return false
	}
	return f.Levels[len(f.Levels)-1]
}

// Close drives the output low and marks it closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Levels = append(f.Levels, false)
	f.Closed = true
	f.mu.Unlock()
	return nil
}
