package playback

const (
	minTempo = 32
	maxTempo = 255

	defaultPolyphony = 32
	defaultFadeOut   = 1024 // subtracted per tick from a 16.16 fade level
)

// TimingConvention selects how BPM converts into a tick clock.
type TimingConvention int

const (
	// TimingBPM is the common convention: secondsPerTick = 2.5 / BPM.
	TimingBPM TimingConvention = iota
	// TimingCIA reproduces the Amiga CIA timer latching exactly:
	// ticksPerSecond = ciaClockHz / ((ciaClockConst / BPM) + 1).
	TimingCIA
)

// Amiga PAL CIA-B timer constants. The timer reload value 1773447/BPM gives
// the classic 125 BPM = 50.0 Hz tick rate, off by the +1 reload cycle.
const (
	ciaClockHz    = 709379.0
	ciaClockConst = 1773447
)

// Quirks collects every format-dependent behavior switch in one place. The
// scheduler and effect code consult these fields and never the Format tag,
// so each quirk stays independently testable.
type Quirks struct {
	Timing TimingConvention

	// TempoChangeNextTick delays a BPM change by one tick, matching the
	// CIA timer latch. Default on for the period-table formats.
	TempoChangeNextTick bool

	// LinearFrequency uses freq = base * 2^(semitone/12) instead of the
	// period table.
	LinearFrequency bool

	// MinPeriod and MaxPeriod clamp portamento slides.
	MinPeriod, MaxPeriod int

	// UncheckedPortamento reproduces the period under/overflow of the
	// original replayer instead of the sign-aware clamp. Off by default;
	// the corrected clamp is the intended behavior.
	UncheckedPortamento bool

	// VibratoPhaseBug reproduces the waveform-select path that read the
	// tremolo phase counter when sampling the vibrato waveform. Off by
	// default; tests pin both behaviors.
	VibratoPhaseBug bool

	// VolumeColumn enables the FastTracker-style volume column dialect
	// (slide/vibrato/pan/portamento shorthands above 0x50).
	VolumeColumn bool

	// NewNoteActions honors per-instrument NNA settings. When off, every
	// new note cuts the previous voice the way the four-channel formats do.
	NewNoteActions bool
}

// QuirksForFormat returns the enumerated quirk set of a supported format.
func QuirksForFormat(f Format) Quirks {
	switch f {
	case FormatAmiga:
		return Quirks{
			Timing:              TimingCIA,
			TempoChangeNextTick: true,
			MinPeriod:           113,
			MaxPeriod:           907,
		}
	case FormatS3M:
		return Quirks{
			Timing:              TimingBPM,
			TempoChangeNextTick: true,
			MinPeriod:           64,
			MaxPeriod:           32767,
			VolumeColumn:        true,
		}
	case FormatChip:
		return Quirks{
			Timing:          TimingBPM,
			LinearFrequency: true,
			MinPeriod:       64,
			MaxPeriod:       32767,
			VolumeColumn:    true,
			NewNoteActions:  true,
		}
	}
	return Quirks{Timing: TimingBPM, MinPeriod: 1, MaxPeriod: 32767}
}

// ticksPerSecond converts BPM into the tick rate under this quirk set.
func (q *Quirks) ticksPerSecond(bpm int) float64 {
	if bpm < minTempo {
		bpm = minTempo
	}
	if bpm > maxTempo {
		bpm = maxTempo
	}
	switch q.Timing {
	case TimingCIA:
		return ciaClockHz / float64((ciaClockConst/bpm)+1)
	default:
		return float64(bpm) / 2.5
	}
}
