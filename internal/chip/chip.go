// Package chip is the reference synthesis backend: a bank of simple
// oscillator voices (pulse, triangle, saw, noise) behind the playback
// Synth contract. It exists so the engine and the command line tools have
// something audible and fully deterministic to drive; it is not trying to
// be a faithful model of any particular sound chip.
package chip

import (
	playback "github.com/spotUP/DEViLBOX-sub006"
)

const (
	maxVoices = 64

	// Waveform selects, matching the values wave macros use.
	WaveSquare   = 0
	WaveTriangle = 1
	WaveSaw      = 2
	WaveNoise    = 3

	fpShift = 16 // fixed point fractional bits of the phase accumulator

	// Linear release ramp length in samples. Short enough to be a click
	// killer, long enough not to sound gated.
	releaseRampLen = 512
)

type chipVoice struct {
	active    bool
	releasing bool

	wave  int
	freq  float64
	duty  uint32 // pulse high time as a 0..1 phase fraction, fixed point
	vol   int    // 0..64
	level int    // operator level scale, 0..64
	pan   int    // 0..127

	phase uint32 // 16.16, whole part wraps at one cycle
	step  uint32
	noise uint32 // 15-bit LFSR state

	relVol int // remaining release ramp, counts down from releaseRampLen
}

// Synth implements playback.Synth and playback.Renderer over a fixed voice
// bank. All methods run on the scheduler goroutine; Render reads the same
// state immediately after, so no locking is needed anywhere.
type Synth struct {
	sampleRate int
	boost      int
	voices     [maxVoices]chipVoice
	mixL       []int32
	mixR       []int32
}

var _ playback.Synth = &Synth{}
var _ playback.Renderer = &Synth{}

// New returns a Synth rendering at the given sample rate.
func New(sampleRate int) *Synth {
	return &Synth{
		sampleRate: sampleRate,
		boost:      1,
	}
}

// SetVolumeBoost sets the output amplification, an integer between 1 and 4.
func (s *Synth) SetVolumeBoost(boost int) {
	if boost < 1 {
		boost = 1
	}
	if boost > 4 {
		boost = 4
	}
	s.boost = boost
}

// Trigger starts a voice. The channel number seeds nothing here; the
// engine owns channel semantics and the backend only plays voices.
func (s *Synth) Trigger(channel int, freq float64, velocity int) playback.VoiceHandle {
	for i := range s.voices {
		v := &s.voices[i]
		if v.active {
			continue
		}
		*v = chipVoice{
			active: true,
			wave:   WaveSquare,
			freq:   freq,
			duty:   1 << (fpShift - 1), // 50%
			vol:    velocity,
			level:  64,
			pan:    64,
			noise:  0x4A01,
			step:   s.phaseStep(freq),
		}
		return playback.VoiceHandle(i)
	}
	return playback.NoVoice
}

// Release starts the voice's linear release ramp; the voice frees itself
// when the ramp hits silence.
func (s *Synth) Release(h playback.VoiceHandle) {
	if v := s.voice(h); v != nil && !v.releasing {
		v.releasing = true
		v.relVol = releaseRampLen
	}
}

// SetParam updates a voice parameter. Out-of-range values clamp; unknown
// parameters are ignored so the backend keeps working against a newer
// engine.
func (s *Synth) SetParam(h playback.VoiceHandle, p playback.Param, value float64) {
	v := s.voice(h)
	if v == nil {
		return
	}
	switch p {
	case playback.ParamFrequency:
		if value < 0 {
			value = 0
		}
		v.freq = value
		v.step = s.phaseStep(value)
	case playback.ParamVolume:
		v.vol = clampInt(int(value), 0, 64)
	case playback.ParamPan:
		v.pan = clampInt(int(value), 0, 127)
	case playback.ParamDuty:
		// duty arrives as a percentage; hold it away from the rails so
		// the pulse never degenerates to DC
		pct := clampInt(int(value), 2, 98)
		v.duty = uint32(pct) << fpShift / 100
	case playback.ParamWave:
		v.wave = clampInt(int(value), WaveSquare, WaveNoise)
	case playback.ParamOpLevel:
		v.level = clampInt(int(value), 0, 64)
	}
}

// Stop silences and frees the voice immediately.
func (s *Synth) Stop(h playback.VoiceHandle) {
	if v := s.voice(h); v != nil {
		v.active = false
	}
}

// ActiveVoices returns how many backend voices are allocated. Test hook.
func (s *Synth) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

func (s *Synth) voice(h playback.VoiceHandle) *chipVoice {
	if h < 0 || int(h) >= maxVoices {
		return nil
	}
	v := &s.voices[h]
	if !v.active {
		return nil
	}
	return v
}

func (s *Synth) phaseStep(freq float64) uint32 {
	return uint32(freq / float64(s.sampleRate) * (1 << fpShift))
}

// Render overwrites out with interleaved stereo samples mixed from all
// active voices.
func (s *Synth) Render(out []int16) {
	nframes := len(out) / 2
	if cap(s.mixL) < nframes {
		s.mixL = make([]int32, nframes)
		s.mixR = make([]int32, nframes)
	}
	mixL := s.mixL[:nframes]
	mixR := s.mixR[:nframes]
	for i := range mixL {
		mixL[i] = 0
		mixR[i] = 0
	}

	for vi := range s.voices {
		v := &s.voices[vi]
		if !v.active {
			continue
		}
		s.renderVoice(v, mixL, mixR)
	}

	for i := 0; i < nframes; i++ {
		out[i*2+0] = clampSample(mixL[i] * int32(s.boost))
		out[i*2+1] = clampSample(mixR[i] * int32(s.boost))
	}
}

func (s *Synth) renderVoice(v *chipVoice, mixL, mixR []int32) {
	lpan := int32(127 - v.pan)
	rpan := int32(v.pan)

	for i := range mixL {
		amp := int32(v.vol * v.level)
		if v.releasing {
			if v.relVol <= 0 {
				v.active = false
				return
			}
			amp = amp * int32(v.relVol) / releaseRampLen
			v.relVol--
		}

		// raw sample in -128..127
		var raw int32
		frac := v.phase & (1<<fpShift - 1)
		switch v.wave {
		case WaveSquare:
			if frac < v.duty {
				raw = 127
			} else {
				raw = -128
			}
		case WaveTriangle:
			if frac < 1<<(fpShift-1) {
				raw = int32(frac>>(fpShift-9)) - 128
			} else {
				raw = 127 - int32((frac-1<<(fpShift-1))>>(fpShift-9))
			}
		case WaveSaw:
			raw = int32(frac>>(fpShift-8)) - 128
		case WaveNoise:
			if v.phase>>fpShift != (v.phase+v.step)>>fpShift {
				bit := (v.noise ^ (v.noise >> 1)) & 1
				v.noise = (v.noise >> 1) | (bit << 14)
			}
			if v.noise&1 != 0 {
				raw = 127
			} else {
				raw = -128
			}
		}
		v.phase += v.step

		// scale by volume*level (0..4096) then split by pan
		sample := raw * amp >> 6 // -8192..8191 at full volume
		mixL[i] += sample * lpan >> 7
		mixR[i] += sample * rpan >> 7
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampSample(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
