package playback

// macroRunner executes one Macro program for one voice. Several runners per
// voice advance on the same tick clock, one per target parameter, with no
// coupling between them.
//
// Phases: while the note is held the cursor ramps through the values and,
// if a loop is set, cycles [Loop, LoopEnd) as a sustain oscillation. With
// no loop the cursor clamps on the last value and holds. On note-off a
// macro with a release point jumps there and plays the tail out once,
// ignoring the loop from then on.
type macroRunner struct {
	macro    *Macro
	cursor   int
	released bool
	done     bool // cursor ran off the end (no loop, or released)
}

func newMacroRunner(m *Macro) macroRunner {
	if m != nil && len(m.Values) == 0 {
		m = nil
	}
	return macroRunner{macro: m}
}

// active reports whether the runner modulates anything. An absent or empty
// macro is "no modulation", never an error.
func (r *macroRunner) active() bool { return r.macro != nil }

// value returns the current tick's scalar without advancing.
func (r *macroRunner) value() int {
	if r.macro == nil {
		return 0
	}
	return r.macro.Values[r.cursor]
}

// step advances the cursor by one tick and returns the value for the tick
// just entered.
func (r *macroRunner) step() int {
	if r.macro == nil {
		return 0
	}
	m := r.macro
	next := r.cursor + 1
	if !r.released && m.Loop >= 0 && next >= m.LoopEnd {
		next = m.Loop
	}
	if next >= len(m.Values) {
		next = len(m.Values) - 1
		r.done = true
	}
	r.cursor = next
	return m.Values[r.cursor]
}

// release moves the runner into its release phase. If the macro defines a
// release index the cursor jumps there; the loop no longer applies either
// way.
func (r *macroRunner) release() {
	if r.macro == nil || r.released {
		return
	}
	r.released = true
	if r.macro.Release >= 0 {
		r.cursor = r.macro.Release
		r.done = false
	}
}

// finished reports that the release tail has fully played out.
func (r *macroRunner) finished() bool {
	return r.macro != nil && r.released && r.done
}

// exhausted reports that a non-looping macro has clamped on its final
// value. Used to detect a voice whose volume program decayed to silence.
func (r *macroRunner) exhausted() bool {
	return r.macro != nil && r.done
}
