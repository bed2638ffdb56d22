package logic

import "time"

// InterlockFilter debounces the water-presence signal asymmetrically.
// Loss of water is reported on the first sample that shows it; restoration
// is only reported once the signal has stayed present for the restore delay.
type InterlockFilter struct {
	restoreDelay time.Duration
	present      bool
	baselined    bool
	pending      bool
	pendingSince time.Time
	counts       InterlockCounts
}

// NewInterlockFilter creates a filter that starts in the absent state.
func NewInterlockFilter(restoreDelay time.Duration) *InterlockFilter {
	return &InterlockFilter{restoreDelay: restoreDelay}
}

// Process takes a raw sample and returns the filtered presence and, on a
// transition after the first stable state, the event to publish.
func (f *InterlockFilter) Process(raw bool, now time.Time) (bool, *Event) {
	if !raw {
		f.pending = false
		wasPresent := f.present
		f.present = false
		if !f.baselined {
			f.baselined = true
			return false, nil
		}
		if wasPresent {
			f.counts.Trips++
			return false, &Event{Timestamp: now, Type: EventWaterLost}
		}
		return false, nil
	}

	if f.present {
		return true, nil
	}

	if !f.pending {
		f.pending = true
		f.pendingSince = now
	}
	if now.Sub(f.pendingSince) < f.restoreDelay {
		return false, nil
	}

	f.pending = false
	f.present = true
	if !f.baselined {
		f.baselined = true
		return true, nil
	}
	f.counts.Restores++
	return true, &Event{Timestamp: now, Type: EventWaterRestored, WaterPresent: true}
}

// Counts returns a copy of the transition counters.
func (f *InterlockFilter) Counts() InterlockCounts {
	return f.counts
}
