package playback

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

// multiPatternSong builds a song from several patterns' worth of row text.
func multiPatternSong(t *testing.T, format Format, orders []byte, patterns ...[]string) *Song {
	t.Helper()
	channels := strings.Count(patterns[0][0], "|") + 1
	song := &Song{
		Format:      format,
		Channels:    channels,
		Orders:      orders,
		Speed:       6,
		Tempo:       125,
		Instruments: []Instrument{{Name: "default", Volume: 64}},
	}
	for pi, rows := range patterns {
		pat, err := parsePattern(rows, channels)
		if err != nil {
			t.Fatalf("bad pattern %d: %v", pi, err)
		}
		song.patterns = append(song.patterns, pat)
	}
	if err := song.normalize(); err != nil {
		t.Fatalf("bad test song: %v", err)
	}
	return song
}

func TestPatternLoopPlayCount(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 SB0",
		"... .. .. 000",
		"... .. .. SB3",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	finished := advanceTicks(p, m, 100)
	if !finished {
		t.Fatal("song never finished")
	}
	// SB0 marks row 0, SB3 loops back three times: four plays in total.
	if got := len(m.triggers()); got != 4 {
		t.Errorf("loop start row played %d times, want 4", got)
	}
}

func TestPatternBreakAdvancesOrder(t *testing.T) {
	song := multiPatternSong(t, FormatS3M, []byte{0, 1},
		[]string{
			"C-4 01 40 C00",
			"... .. .. 000",
			"... .. .. 000",
		},
		[]string{
			"E-4 01 40 000",
		},
	)
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 7)

	trigs := m.triggers()
	if len(trigs) != 2 {
		t.Fatalf("got %d triggers, want 2", len(trigs))
	}
	// The break finishes the current row first, then jumps.
	if d := trigs[1].tick - trigs[0].tick; d != 6 {
		t.Errorf("break after %d ticks, want 6", d)
	}
	if pos := p.Position(); pos.Order != 1 || pos.Row != 0 {
		t.Errorf("position after break = %+v, want order 1 row 0", pos)
	}
}

func TestPositionJumpWithOrderLimit(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. B00",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)
	p.PlayOrderLimit = 3

	finished := advanceTicks(p, m, 100)
	if !finished {
		t.Fatal("looping song must stop at the order limit")
	}
	if got := len(m.triggers()); got != 3 {
		t.Errorf("order played %d times, want 3", got)
	}
}

func TestPatternDelayHoldsRow(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 SE2",
		"E-4 01 40 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 20)

	trigs := m.triggers()
	if len(trigs) != 2 {
		t.Fatalf("got %d triggers, want 2", len(trigs))
	}
	// Row 0 lasts three row-durations (one natural plus two extra) and the
	// held row must not retrigger its note.
	if d := trigs[1].tick - trigs[0].tick; d != 18 {
		t.Errorf("next row after %d ticks, want 18", d)
	}
}

func TestSeekTo(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. 000",
		"E-4 01 40 000",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)
	p.SeekTo(0, 2)

	advanceTicks(p, m, 1)
	trigs := m.triggers()
	if len(trigs) != 1 {
		t.Fatalf("got %d triggers, want 1", len(trigs))
	}
	if trigs[0].value != amigaFrequency(339) {
		t.Errorf("first note after seek at %f Hz, want E-4", trigs[0].value)
	}
}

func sustained() InstrumentMacros {
	return InstrumentMacros{
		Volume: &Macro{Values: []int{64, 48, 32, 16, 8, 4, 2, 1, 0}, Loop: -1, LoopEnd: -1, Release: -1},
	}
}

func TestNNAContinueLetsVoiceDecay(t *testing.T) {
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000",
		"E-4 01 40 000",
	}, Instrument{Name: "bell", Volume: 64, NNA: NNAContinue, Macros: sustained()})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	// Second note arrives while the first voice's one-shot volume program
	// is still above silence: two voices sound at once.
	advanceTicks(p, m, 7)
	if got := p.ActiveVoiceCount(0); got != 2 {
		t.Fatalf("voices after overlapping note = %d, want 2", got)
	}

	// The first voice's program clamps on 0 and the engine reaps it
	// without any backend readback.
	advanceTicks(p, m, 4)
	if got := p.ActiveVoiceCount(0); got != 1 {
		t.Errorf("voices after natural decay = %d, want 1", got)
	}
}

func TestNNADefaultsToCutWithoutQuirk(t *testing.T) {
	// Same song in a four-channel format: NNA settings are ignored and the
	// new note cuts the old voice.
	song := testSong(t, FormatAmiga, []string{
		"C-4 01 40 000",
		"E-4 01 40 000",
	}, Instrument{Name: "bell", Volume: 64, NNA: NNAContinue, Macros: sustained()})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 7)
	if got := p.ActiveVoiceCount(0); got != 1 {
		t.Errorf("voices = %d, want 1 (old voice cut)", got)
	}
	if m.live[1] {
		t.Error("first voice should have received a Stop")
	}
}

func TestNNANoteOffReleasesOldVoice(t *testing.T) {
	ins := Instrument{Name: "pad", Volume: 64, NNA: NNANoteOff, Macros: InstrumentMacros{
		Volume: &Macro{Values: []int{64, 64, 32, 0}, Loop: 0, LoopEnd: 2, Release: 2},
	}}
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000",
		"E-4 01 40 000",
	}, ins)
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 7)

	var released bool
	for _, e := range m.events {
		if e.kind == "release" && e.voice == 1 {
			released = true
		}
	}
	if !released {
		t.Error("old voice should have been released, not stopped")
	}
	if got := p.ActiveVoiceCount(0); got != 2 {
		t.Fatalf("voices right after note-off NNA = %d, want 2", got)
	}

	// The release tail (32, 0) plays out and the voice reaps itself.
	advanceTicks(p, m, 3)
	if got := p.ActiveVoiceCount(0); got != 1 {
		t.Errorf("voices after release tail = %d, want 1", got)
	}
}

func TestNNAFadeRampsToSilence(t *testing.T) {
	ins := Instrument{Name: "str", Volume: 64, NNA: NNAFade, FadeOut: 1 << 14, Macros: InstrumentMacros{
		Volume: &Macro{Values: []int{64}, Loop: 0, LoopEnd: 1, Release: -1},
	}}
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000",
		"E-4 01 40 000",
	}, ins)
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 7)
	if got := p.ActiveVoiceCount(0); got != 2 {
		t.Fatalf("voices after fade NNA = %d, want 2", got)
	}

	// FadeOut of 2^14 exhausts the 16.16 level in four ticks.
	advanceTicks(p, m, 5)
	if got := p.ActiveVoiceCount(0); got != 1 {
		t.Errorf("voices after fade-out = %d, want 1", got)
	}
}

func TestVoiceStealingPrefersOldestBackground(t *testing.T) {
	ins := Instrument{Name: "sus", Volume: 64, NNA: NNAContinue, Macros: InstrumentMacros{
		Volume: &Macro{Values: []int{64, 64}, Loop: 0, LoopEnd: 2, Release: -1},
	}}
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000",
		"D-4 01 40 000",
		"E-4 01 40 000",
	}, ins)
	song.Polyphony = 2
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 18)

	// Third trigger hits the two-voice ceiling; the oldest background
	// voice is stolen, never the fresh note.
	if got := p.ActiveVoiceCount(-1); got > 2 {
		t.Errorf("voice count %d exceeds polyphony 2", got)
	}
	if m.live[1] {
		t.Error("oldest voice should have been stolen")
	}
	if !m.live[3] {
		t.Error("the freshly triggered voice must survive the steal")
	}
}

func TestKeyOffReleasesForegroundVoice(t *testing.T) {
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000",
		"^^. .. .. 000",
	}, Instrument{Name: "env", Volume: 64, Macros: InstrumentMacros{
		Volume: &Macro{Values: []int{64, 64, 16, 0}, Loop: 0, LoopEnd: 2, Release: 2},
	}})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 7)

	var released bool
	for _, e := range m.events {
		if e.kind == "release" && e.voice == 1 {
			released = true
		}
	}
	if !released {
		t.Fatal("key-off must Release the voice, not Stop it")
	}
	// Tail plays 16 then 0, then the engine reaps the voice.
	advanceTicks(p, m, 3)
	if got := p.ActiveVoiceCount(0); got != 0 {
		t.Errorf("voices after key-off tail = %d, want 0", got)
	}
}

func TestPlaybackIsDeterministic(t *testing.T) {
	rows := []string{
		"C-4 01 40 H48 S33",
		"E-4 01 30 J47",
		"... .. .. D02",
		"G-4 01 .. Q02",
	}
	run := func() []sevent {
		song := testSong(t, FormatS3M, rows)
		m := newMockSynth()
		p := newTestPlayer(t, song, m)
		advanceTicks(p, m, 24)
		return m.events
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Error("two playbacks of the same song produced different event streams")
	}
}

func TestStopLeavesNoDanglingVoices(t *testing.T) {
	song := testSong(t, FormatChip, []string{
		"C-4 01 40 000|E-4 01 40 000",
		"G-4 01 40 000|... .. .. 000",
	}, Instrument{Name: "sus", Volume: 64, NNA: NNAContinue, Macros: InstrumentMacros{
		Volume: &Macro{Values: []int{64, 64}, Loop: 0, LoopEnd: 2, Release: -1},
	}})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 8)
	if p.ActiveVoiceCount(-1) == 0 {
		t.Fatal("expected sounding voices before Stop")
	}

	p.Stop()
	if p.IsPlaying() {
		t.Error("player still playing after Stop")
	}
	if len(m.live) != 0 {
		t.Errorf("%d voices dangling after Stop", len(m.live))
	}
	if got := p.ActiveVoiceCount(-1); got != 0 {
		t.Errorf("engine still tracks %d voices after Stop", got)
	}
}

func TestGenerateAudioRunsToSongEnd(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. 000",
		"... .. .. 000",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	buf := make([]int16, 1024)
	total := 0
	for i := 0; i < 10000 && p.IsPlaying(); i++ {
		total += p.GenerateAudio(buf)
	}
	if p.IsPlaying() {
		t.Fatal("song never ended")
	}
	// Four rows at speed 6, 125 BPM, 44.1kHz.
	want := 24 * p.samplesPerTick
	if total < want-1024 || total > want+1024 {
		t.Errorf("generated %d frames, want about %d", total, want)
	}
}

func TestGenerateAudioReportsStarvation(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. 000",
		"... .. .. 000",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m, WithLookahead(1))

	var dump bytes.Buffer
	SetDumpWriter(&dump)
	defer SetDumpWriter(nil)

	// One call spanning several ticks exceeds a one-tick budget.
	buf := make([]int16, p.samplesPerTick*6)
	p.GenerateAudio(buf)

	if p.StarvedTicks() == 0 {
		t.Error("starvation not reported")
	}
	if !strings.Contains(dump.String(), "starved") {
		t.Error("starvation not logged to the dump writer")
	}
}

func TestPositionSnapshot(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	advanceTicks(p, m, 8)
	pos := p.Position()
	if pos.Order != 0 || pos.Row != 1 || pos.Tick != 1 {
		t.Errorf("position = %+v, want order 0 row 1 tick 1", pos)
	}
	if pos.Pattern != 0 {
		t.Errorf("pattern = %d, want 0", pos.Pattern)
	}
}

func TestPlayerStateChannelSnapshot(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 000",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	st := p.PlayerState()
	if st.Channels[0].Instrument != -1 || st.Channels[0].Voices != 0 {
		t.Errorf("idle channel state = %+v, want no instrument, no voices", st.Channels[0])
	}

	advanceTicks(p, m, 1)
	st = p.PlayerState()
	if st.Channels[0].Instrument != 0 {
		t.Errorf("instrument index = %d, want 0", st.Channels[0].Instrument)
	}
	if st.Channels[0].Voices != 1 {
		t.Errorf("voices = %d, want 1", st.Channels[0].Voices)
	}
	if len(st.Notes) != 1 || st.Notes[0].Note != "C-4" {
		t.Errorf("notes = %+v, want the playing row's C-4", st.Notes)
	}
}

func TestSpeedAndTempoOverrides(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 01 40 A03",
		"... .. .. T80",
		"... .. .. 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)
	p.SetSpeedOverride(2)
	p.SetTempoOverride(200)

	spt := p.samplesPerTick
	advanceTicks(p, m, 6)

	// In-pattern speed and tempo effects lose against the overrides.
	if got := p.currentSpeed(); got != 2 {
		t.Errorf("effective speed = %d, want override 2", got)
	}
	if p.samplesPerTick != spt {
		t.Error("tempo effect changed the tick length despite the override")
	}

	p.SetTempoOverride(0)
	if p.samplesPerTick == spt {
		t.Error("clearing the override should restore the song tempo")
	}
}

func TestMissingInstrumentLoggedOnceAndIgnored(t *testing.T) {
	song := testSong(t, FormatS3M, []string{
		"C-4 09 40 000",
		"C-4 09 40 000",
	})
	m := newMockSynth()
	p := newTestPlayer(t, song, m)

	var dump bytes.Buffer
	SetDumpWriter(&dump)
	defer SetDumpWriter(nil)

	advanceTicks(p, m, 12)
	if got := len(m.triggers()); got != 0 {
		t.Errorf("missing instrument still triggered %d times", got)
	}
	if n := strings.Count(dump.String(), "missing instrument"); n != 1 {
		t.Errorf("missing instrument logged %d times, want once", n)
	}
}
