package gpio

import "time"

// Debouncer wraps an Input and only reports a level once it has been
// observed continuously for the debounce duration. Until the first level
// is established it reports inactive.
// Not safe for concurrent use.
type Debouncer struct {
	in       Input
	debounce time.Duration
	now      func() time.Time

	// Current stable (debounced) state
	stable bool
	// Pending state during debounce
	pending    bool
	hasPending bool
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// NewDebouncer creates a Debouncer. now is injectable for tests; nil uses time.Now.
func NewDebouncer(in Input, debounce time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{in: in, debounce: debounce, now: now}
}

// Active samples the underlying input and returns the debounced level.
func (d *Debouncer) Active() (bool, error) {
	raw, err := d.in.Active()
	if err != nil {
		return false, err
	}
	return d.process(raw, d.now()), nil
}

// Close closes the underlying input.
func (d *Debouncer) Close() error {
	return d.in.Close()
}

func (d *Debouncer) process(raw bool, now time.Time) bool {
	// First time seeing this line, or level changed during baseline
	if !d.baselined {
		if !d.hasPending || d.pending != raw {
			d.pending = raw
			d.hasPending = true
			d.pendingSince = now
		}
		if now.Sub(d.pendingSince) >= d.debounce {
			d.stable = raw
			d.baselined = true
			d.hasPending = false
		}
		return d.stable
	}

	// No change from stable state, clear any pending
	if raw == d.stable {
		d.hasPending = false
		return d.stable
	}

	// New pending state
	if !d.hasPending || d.pending != raw {
		d.pending = raw
		d.hasPending = true
		d.pendingSince = now
	}

	// Same pending state, check debounce
	if now.Sub(d.pendingSince) >= d.debounce {
		d.stable = raw
		d.hasPending = false
	}
	return d.stable
}
