package comb

import (
	"testing"
)

func TestAllpassImpulseResponse(t *testing.T) {
	const delay = 10
	ap := newAllpass(delay)

	// The feedforward term inverts the input immediately.
	if out := ap.process(1000); out != -1000 {
		t.Errorf("first output = %d, want -1000", out)
	}
	// The buffered impulse emerges after the delay line's length.
	for i := 1; i < delay; i++ {
		if out := ap.process(0); out != 0 {
			t.Fatalf("early echo %d at sample %d", out, i)
		}
	}
	if out := ap.process(0); out == 0 {
		t.Error("delayed impulse missing")
	}
}

func TestCombImpulseResponse(t *testing.T) {
	const delay = 10
	cf := newCombFilter(delay, 0.7, 0)

	if out := cf.process(1000); out != 0 {
		t.Errorf("comb output before the delay = %d, want 0", out)
	}
	for i := 1; i < delay; i++ {
		if out := cf.process(0); out != 0 {
			t.Fatalf("early echo %d at sample %d", out, i)
		}
	}
	if out := cf.process(0); out != 1000 {
		t.Errorf("first echo = %d, want the undamped impulse 1000", out)
	}

	// Feedback produces a train of echoes decaying by the feedback gain.
	prev := int32(1000)
	decayed := false
	for i := 0; i < delay*3; i++ {
		out := cf.process(0)
		if out != 0 {
			if out >= prev {
				t.Fatalf("echo %d did not decay below %d", out, prev)
			}
			prev = out
			decayed = true
		}
	}
	if !decayed {
		t.Error("no feedback echoes observed")
	}
}

func TestCombDampingAbsorbsHighFrequencies(t *testing.T) {
	bright := newCombFilter(10, 0.9, 0)
	damped := newCombFilter(10, 0.9, 0.7)

	// Alternating full-scale samples are the highest frequency the filter
	// will ever see; the damped tail must come out quieter.
	var sumBright, sumDamped int64
	for i := 0; i < 200; i++ {
		in := int32(1000)
		if i%2 == 0 {
			in = -in
		}
		sumBright += int64(abs32(bright.process(in)))
		sumDamped += int64(abs32(damped.process(in)))
	}
	if sumDamped >= sumBright {
		t.Errorf("damping did not absorb energy: %d vs %d", sumDamped, sumBright)
	}
}

func TestReverbWetDryMix(t *testing.T) {
	process := func(mix float32) []int16 {
		rvb := NewStereoReverb(1024, 0.5, 0.5, mix, 44100)
		in := make([]int16, 100)
		for i := range in {
			in[i] = 1000
		}
		rvb.InputSamples(in)
		out := make([]int16, len(in))
		rvb.GetAudio(out)
		return out
	}

	diff := func(out []int16) (d int64) {
		for _, v := range out {
			d += int64(abs32(int32(v) - 1000))
		}
		return d
	}

	dry, mid, wet := diff(process(0)), diff(process(0.5)), diff(process(1))
	if dry > mid {
		t.Errorf("mix 0 further from the input than mix 0.5: %d vs %d", dry, mid)
	}
	if wet < mid {
		t.Errorf("mix 1 closer to the input than mix 0.5: %d vs %d", wet, mid)
	}
}

func TestReverbConsumesWholePairsOnly(t *testing.T) {
	rvb := NewStereoReverb(1024, 0.5, 0.5, 0.5, 44100)
	in := make([]int16, 7)
	if n := rvb.InputSamples(in); n != 6 {
		t.Errorf("consumed %d samples of an odd-length buffer, want 6", n)
	}
}

func TestReverbBoundedBuffer(t *testing.T) {
	rvb := NewStereoReverb(256, 0.5, 0.5, 0.5, 44100)
	in := make([]int16, 1000)

	// Feeding without draining must stop at the buffer capacity, not grow.
	total := 0
	for i := 0; i < 100; i++ {
		n := rvb.InputSamples(in)
		total += n
		if n == 0 {
			break
		}
	}
	if total > 256 {
		t.Errorf("accepted %d samples into a 256 sample buffer", total)
	}

	// Draining frees the space again.
	out := make([]int16, 256)
	rvb.GetAudio(out)
	if n := rvb.InputSamples(in[:64]); n != 64 {
		t.Errorf("accepted %d samples after a drain, want 64", n)
	}
}

func TestReverbChunkingInvariance(t *testing.T) {
	input := make([]int16, 2048)
	for i := range input {
		input[i] = int16((i*137+i*i*3)%30000 - 15000)
	}

	run := func(chunk int) []int16 {
		rvb := NewStereoReverb(4096, 0.6, 0.4, 0.3, 44100)
		var out []int16
		for pos := 0; pos < len(input); {
			end := pos + chunk
			if end > len(input) {
				end = len(input)
			}
			n := rvb.InputSamples(input[pos:end])
			pos += n
			buf := make([]int16, n)
			got := rvb.GetAudio(buf)
			out = append(out, buf[:got]...)
		}
		return out
	}

	whole := run(len(input))
	pieces := run(256)
	if len(whole) != len(pieces) {
		t.Fatalf("chunked run produced %d samples, whole run %d", len(pieces), len(whole))
	}
	for i := range whole {
		if whole[i] != pieces[i] {
			t.Fatalf("chunked run diverges at sample %d: %d vs %d", i, pieces[i], whole[i])
		}
	}
}

func TestReverbDelayLinesScaleWithSampleRate(t *testing.T) {
	low := NewStereoReverb(1024, 0.5, 0.5, 0.5, 22050)
	high := NewStereoReverb(1024, 0.5, 0.5, 0.5, 88200)
	if len(low.combL[0].buf) >= len(high.combL[0].buf) {
		t.Errorf("comb delay does not scale: %d samples at 22kHz vs %d at 88kHz",
			len(low.combL[0].buf), len(high.combL[0].buf))
	}
	// The right channel is spread to decorrelate the stereo image. At the
	// reference rate the tuning table applies unscaled.
	ref := NewStereoReverb(1024, 0.5, 0.5, 0.5, 44100)
	if len(ref.combR[0].buf) != len(ref.combL[0].buf)+stereoSpread {
		t.Errorf("stereo spread missing: L %d, R %d",
			len(ref.combL[0].buf), len(ref.combR[0].buf))
	}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
