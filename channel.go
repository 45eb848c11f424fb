package playback

// voice is the engine-side shadow of one backend voice. A channel owns one
// foreground voice plus any background voices a New-Note-Action left
// ringing. Background voices keep running their own macro programs until
// the release tail plays out or a forced fade hits silence; the backend is
// a one-way sink, so decay completion is tracked here, never read back.
type voice struct {
	handle VoiceHandle
	id     uint64 // monotonic trigger counter, engine-owned, never wall clock
	inst   *Instrument
	note   Note

	macros [macroTargetCount]macroRunner

	baseVol  int // velocity at trigger, 0..64
	fade     int // 16.16 fade level
	fadeRate int // per-tick fade subtraction, 0 = not fading
	released bool
	age      int // ticks since trigger
}

func newVoice(handle VoiceHandle, id uint64, inst *Instrument, note Note, vol int) *voice {
	v := &voice{
		handle:  handle,
		id:      id,
		inst:    inst,
		note:    note,
		baseVol: vol,
		fade:    1 << 16,
	}
	for t := MacroTarget(0); t < macroTargetCount; t++ {
		v.macros[t] = newMacroRunner(inst.Macros.ForTarget(t))
	}
	return v
}

// release sends every macro into its release phase and marks the voice.
func (v *voice) release() {
	if v.released {
		return
	}
	v.released = true
	for t := range v.macros {
		v.macros[t].release()
	}
}

// startFade forces the fixed-rate fade-out of NNA Fade, independent of the
// voice's own envelope.
func (v *voice) startFade() {
	if v.fadeRate == 0 {
		v.fadeRate = v.inst.FadeOut
	}
}

// macroTick advances all macro runners by one tick. The first tick after a
// trigger plays index 0, so tick zero only reads.
func (v *voice) macroTick() {
	if v.age > 0 {
		for t := range v.macros {
			if v.macros[t].active() {
				v.macros[t].step()
			}
		}
	}
	v.age++
	if v.fadeRate > 0 {
		v.fade -= v.fadeRate
		if v.fade < 0 {
			v.fade = 0
		}
	}
}

// macroValue returns the target's current value and whether a macro drives
// the target at all.
func (v *voice) macroValue(t MacroTarget) (int, bool) {
	if !v.macros[t].active() {
		return 0, false
	}
	return v.macros[t].value(), true
}

// volume computes the voice's effective volume from its trigger velocity,
// volume macro and fade level.
func (v *voice) volume() int {
	vol := v.baseVol
	if mv, ok := v.macroValue(MacroVolume); ok {
		vol = (vol * clampVolume(mv)) / maxVolume
	}
	return (vol * (v.fade >> 8)) >> 8
}

// finished reports that the voice decayed to nothing and can be freed: its
// fade ran out, its release tail ended, or its one-shot volume program
// clamped on silence.
func (v *voice) finished() bool {
	if v.fadeRate > 0 && v.fade == 0 {
		return true
	}
	vm := &v.macros[MacroVolume]
	if v.released {
		if !vm.active() {
			// no volume program to ring out; the release is immediate
			return true
		}
		return vm.finished()
	}
	return vm.active() && vm.exhausted() && vm.value() == 0
}

// channel is the mutable per-channel state. Channels live in a slice owned
// by the Player and are only ever addressed by index from the scheduler
// goroutine, so there is no aliasing to reason about.
type channel struct {
	cur *voice
	bg  []*voice

	instrument int // 1-based current instrument, 0 = none

	note     Note
	period   int
	finetune int

	volume int
	pan    int

	// tone portamento
	portaTarget int // destination period, 0 = inactive
	portaSpeed  int
	glissando   bool

	// vibrato and tremolo run on independent phase counters and
	// independent waveform selects
	vibSpeed, vibDepth, vibPhase    int
	vibWave                         waveSelect
	vibAdjust                       int
	tremSpeed, tremDepth, tremPhase int
	tremWave                        waveSelect
	tremAdjust                      int
	rng                             uint32

	// remembered effect parameters, indexed by memory slot. Which
	// operations share a slot is declared in memSlot, and which slots
	// survive a note trigger in effectTraitsTab.
	mem [effectKindCount]byte

	armed        [2]effectOp
	tickCounter  int // per-row counter for retrigger
	tremorCount  int
	tremorMute   bool
	sampleOffset int

	// note delay staging
	delayed      Cell
	hasDelayed   bool
	volumeToPlay int

	noteOff bool
}

func (c *channel) reset(pan int) {
	*c = channel{pan: pan, rng: 0x2545F491}
	c.cur = nil
	c.bg = nil
}

// voiceCount is the number of voices currently sounding on the channel.
func (c *channel) voiceCount() int {
	n := len(c.bg)
	if c.cur != nil {
		n++
	}
	return n
}

// resetNoteState clears the remembered parameter of every operation whose
// declared traits say it does not carry across notes. The carrying
// memories (slide speeds, offsets, the portamento target's speed) survive
// by the same declaration.
func (c *channel) resetNoteState() {
	for k := effectKind(0); k < effectKindCount; k++ {
		if !effectTraitsTab[k].carries {
			c.mem[memSlot(k)] = 0
		}
	}
	c.tremorCount, c.tremorMute = 0, false
	if c.vibWave.retrigs() {
		c.vibPhase = 0
	}
	if c.tremWave.retrigs() {
		c.tremPhase = 0
	}
}

// portaToNote steps the period toward the portamento target, snapping
// exactly on arrival. The slide position stays smooth even in glissando
// mode; the rounding to discrete table steps happens only when the
// frequency is emitted, so small speeds still make progress.
func (c *channel) portaToNote() {
	if c.portaTarget == 0 || c.period == 0 {
		return
	}
	period := c.period
	if period < c.portaTarget {
		period += c.portaSpeed
		if period > c.portaTarget {
			period = c.portaTarget
		}
	} else if period > c.portaTarget {
		period -= c.portaSpeed
		if period < c.portaTarget {
			period = c.portaTarget
		}
	}
	c.period = period
	if c.period == c.portaTarget {
		c.portaTarget = 0
	}
}

// slidePeriod moves the period by delta with the format's clamp. The
// sign-aware clamp is the corrected behavior; the unchecked variant
// reproduces the original replayer's wraparound for content that depends
// on it.
func (c *channel) slidePeriod(delta int, q *Quirks) {
	c.period += delta
	if q.UncheckedPortamento {
		c.period &= 0xFFFF
		return
	}
	if c.period < q.MinPeriod {
		c.period = q.MinPeriod
	}
	if c.period > q.MaxPeriod {
		c.period = q.MaxPeriod
	}
}

// volumeSlide applies one tick of Dxy using the remembered parameter.
// Fine slides do not run here; they apply once at row start.
func (c *channel) volumeSlide() {
	x := int(c.mem[effVolumeSlide] >> 4)
	y := int(c.mem[effVolumeSlide] & 0xF)
	if x == 0xF || y == 0xF {
		return
	}
	if x > 0 {
		c.volume = clampVolume(c.volume + x)
	} else if y > 0 {
		c.volume = clampVolume(c.volume - y)
	}
}

// fineVolumeSlide applies the tick-zero half of Dxy: DFy slides down by y,
// DxF slides up by x.
func (c *channel) fineVolumeSlide() {
	x := int(c.mem[effVolumeSlide] >> 4)
	y := int(c.mem[effVolumeSlide] & 0xF)
	if x == 0xF && y != 0xF && y > 0 {
		c.volume = clampVolume(c.volume - y)
	} else if y == 0xF && x > 0 {
		c.volume = clampVolume(c.volume + x)
	}
}

// vibratoTick samples the vibrato waveform and advances its phase. With
// the phase-counter bug enabled the waveform is sampled at the tremolo
// phase, as the inherited implementation did.
func (c *channel) vibratoTick(q *Quirks) {
	phase := c.vibPhase
	if q.VibratoPhaseBug {
		phase = c.tremPhase
	}
	c.vibAdjust = (oscSample(c.vibWave, (phase>>2)&0x3F, &c.rng) * c.vibDepth) >> 7
	c.vibPhase = (c.vibPhase + c.vibSpeed) & 0xFF
}

// tremoloTick samples the tremolo waveform and advances its phase. Note
// the depth divisor differs from vibrato's; both match the reference
// replayer bit for bit.
func (c *channel) tremoloTick() {
	c.tremAdjust = (oscSample(c.tremWave, (c.tremPhase>>2)&0x3F, &c.rng) * c.tremDepth) >> 6
	c.tremPhase = (c.tremPhase + c.tremSpeed) & 0xFF
}

// tremorTick runs the x-on / y-off mute cycle.
func (c *channel) tremorTick(param byte) {
	on := int(param>>4) + 1
	off := int(param&0xF) + 1
	c.tremorMute = c.tremorCount >= on
	c.tremorCount++
	if c.tremorCount >= on+off {
		c.tremorCount = 0
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxVolume {
		return maxVolume
	}
	return v
}

func clampPan(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}
