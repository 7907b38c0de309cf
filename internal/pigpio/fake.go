package pigpio

import "sync"

// Fake is an in-memory Pi implementation for tests. It records the full
// pulse-width history per GPIO so trajectory tests can assert on smoothing.
type Fake struct {
	mu sync.Mutex

	Modes      map[int]Mode
	Levels     map[int]Level
	PulseWidth map[int]int
	History    map[int][]int

	// Err, when set, is returned from every call.
	Err error

	closed bool
}

// NewFake returns an empty fake Pi.
func NewFake() *Fake {
	return &Fake{
		Modes:      make(map[int]Mode),
		Levels:     make(map[int]Level),
		PulseWidth: make(map[int]int),
		History:    make(map[int][]int),
	}
}

func (f *Fake) SetMode(gpio int, mode Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Modes[gpio] = mode
	return nil
}

func (f *Fake) Write(gpio int, level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Levels[gpio] = level
	return nil
}

func (f *Fake) ServoPulsewidth(gpio int, pulseWidth int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.PulseWidth[gpio] = pulseWidth
	f.History[gpio] = append(f.History[gpio], pulseWidth)
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// LevelOf returns the last written level for a GPIO.
func (f *Fake) LevelOf(gpio int) Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Levels[gpio]
}

// HistoryOf returns a copy of the pulse-width history for a GPIO.
func (f *Fake) HistoryOf(gpio int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.History[gpio]))
	copy(out, f.History[gpio])
	return out
}
