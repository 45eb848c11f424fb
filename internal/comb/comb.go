// Package comb implements a small Schroeder-style reverb built from
// parallel feedback comb filters and series allpass diffusers. It operates
// on interleaved stereo int16 audio and owns a bounded circular buffer, so
// it can sit between a generator and an audio device without growing.
package comb

// Reverber is the processing stage the players push generated audio
// through. InputSamples consumes as much of in as buffer space allows and
// returns the number of samples taken; GetAudio drains processed samples
// into out and returns the number delivered.
type Reverber interface {
	InputSamples(in []int16) int
	GetAudio(out []int16) int
}

// Freeverb comb and allpass delay tunings, in samples at 44.1kHz. The
// right channel runs the same network detuned by a fixed spread to
// decorrelate the stereo image.
var (
	combTunings    = [4]int{1116, 1188, 1277, 1356}
	allpassTunings = [2]int{556, 441}
)

const stereoSpread = 23

// combFilter is one feedback comb with a one-pole lowpass in the feedback
// path. The damping coefficient rolls treble off the tail.
type combFilter struct {
	buf   []int32
	pos   int
	decay float32
	damp  float32
	store int32
}

func newCombFilter(delay int, decay, damp float32) *combFilter {
	if delay < 1 {
		delay = 1
	}
	return &combFilter{
		buf:   make([]int32, delay),
		decay: decay,
		damp:  damp,
	}
}

func (c *combFilter) process(in int32) int32 {
	out := c.buf[c.pos]
	c.store = int32(float32(out)*(1-c.damp) + float32(c.store)*c.damp)
	c.buf[c.pos] = in + int32(float32(c.store)*c.decay)
	c.pos++
	if c.pos == len(c.buf) {
		c.pos = 0
	}
	return out
}

// allpassFilter smears the comb output without coloring the long-term
// spectrum. Fixed 0.5 feedback, standard for this topology.
type allpassFilter struct {
	buf []int32
	pos int
}

func newAllpass(delay int) *allpassFilter {
	if delay < 1 {
		delay = 1
	}
	return &allpassFilter{buf: make([]int32, delay)}
}

func (a *allpassFilter) process(in int32) int32 {
	bufout := a.buf[a.pos]
	out := -in + bufout
	a.buf[a.pos] = in + int32(float32(bufout)*0.5)
	a.pos++
	if a.pos == len(a.buf) {
		a.pos = 0
	}
	return out
}

// StereoReverb runs a comb/allpass network per channel over interleaved
// stereo samples. Processed audio lands in a fixed-size circular buffer;
// when the buffer fills, InputSamples pushes back by consuming less.
type StereoReverb struct {
	combL, combR [4]*combFilter
	allL, allR   [2]*allpassFilter
	mix          float32

	audio             []int16
	bufSize           int
	readPos, writePos int
	n                 int
}

var _ Reverber = &StereoReverb{}

// NewStereoReverb builds the network. bufferSize is the circular buffer
// capacity in samples; decay sets the feedback amount (tail length), damp
// the high-frequency rolloff and mix the wet/dry balance, all 0..1. Delay
// line lengths scale with the sample rate so the room size is rate
// independent.
func NewStereoReverb(bufferSize int, decay, damp, mix float32, sampleRate int) *StereoReverb {
	s := &StereoReverb{
		mix:     mix,
		audio:   make([]int16, bufferSize),
		bufSize: bufferSize,
	}
	scale := func(d int) int {
		return d * sampleRate / 44100
	}
	for i, d := range combTunings {
		s.combL[i] = newCombFilter(scale(d), decay, damp)
		s.combR[i] = newCombFilter(scale(d+stereoSpread), decay, damp)
	}
	for i, d := range allpassTunings {
		s.allL[i] = newAllpass(scale(d))
		s.allR[i] = newAllpass(scale(d + stereoSpread))
	}
	return s
}

func (s *StereoReverb) processPair(l, r int16) (int16, int16) {
	var wetL, wetR int32
	for i := range s.combL {
		wetL += s.combL[i].process(int32(l))
		wetR += s.combR[i].process(int32(r))
	}
	wetL /= int32(len(s.combL))
	wetR /= int32(len(s.combR))
	for i := range s.allL {
		wetL = s.allL[i].process(wetL)
		wetR = s.allR[i].process(wetR)
	}
	outL := int32(float32(l)*(1-s.mix) + float32(wetL)*s.mix)
	outR := int32(float32(r)*(1-s.mix) + float32(wetR)*s.mix)
	return clamp16(outL), clamp16(outR)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// InputSamples processes in through the network and queues the result.
// Returns the number of samples consumed, which is less than len(in) when
// the internal buffer is full.
func (s *StereoReverb) InputSamples(in []int16) int {
	free := s.bufSize - s.n
	n := len(in)
	if n > free {
		n = free
	}
	n &^= 1 // whole stereo pairs only
	for i := 0; i < n; i += 2 {
		l, r := s.processPair(in[i], in[i+1])
		s.audio[s.writePos] = l
		s.writePos = (s.writePos + 1) % s.bufSize
		s.audio[s.writePos] = r
		s.writePos = (s.writePos + 1) % s.bufSize
	}
	s.n += n
	return n
}

// GetAudio drains processed samples into out, returning the number
// delivered.
func (s *StereoReverb) GetAudio(out []int16) int {
	n := len(out)
	if n > s.n {
		n = s.n
	}
	if n == 0 {
		return 0
	}
	if s.readPos+n > s.bufSize {
		n1 := s.bufSize - s.readPos
		copy(out[:n1], s.audio[s.readPos:])
		copy(out[n1:n], s.audio[:n-n1])
		s.readPos = n - n1
	} else {
		copy(out[:n], s.audio[s.readPos:s.readPos+n])
		s.readPos += n
	}
	s.n -= n
	return n
}
