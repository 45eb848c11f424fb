package playback

import (
	"fmt"
	"strings"
	"testing"
)

// Test songs are written in the same cell text the YAML form uses, one
// string per row, channels separated by '|':
//
//	"C-4 01 40 000|... .. .. 000"
//
// testSong builds a single-pattern song from such rows.
func testSong(t *testing.T, format Format, rows []string, instruments ...Instrument) *Song {
	t.Helper()
	if len(instruments) == 0 {
		instruments = []Instrument{{Name: "default", Volume: 64}}
	}
	channels := strings.Count(rows[0], "|") + 1
	pat, err := parsePattern(rows, channels)
	if err != nil {
		t.Fatalf("bad test pattern: %v", err)
	}
	song := &Song{
		Format:      format,
		Channels:    channels,
		Orders:      []byte{0},
		Speed:       6,
		Tempo:       125,
		Instruments: instruments,
		patterns:    []Pattern{pat},
	}
	if err := song.normalize(); err != nil {
		t.Fatalf("bad test song: %v", err)
	}
	return song
}

// sevent is one recorded backend call.
type sevent struct {
	tick   int
	kind   string // "trigger", "release", "setparam", "stop"
	chann  int
	voice  VoiceHandle
	param  Param
	value  float64
	velo   int
}

func (e sevent) String() string {
	return fmt.Sprintf("{t%d %s ch%d v%d p%d %.2f}", e.tick, e.kind, e.chann, e.voice, e.param, e.value)
}

// mockSynth records every backend call with the tick it arrived on. Tests
// advance the tick counter through advanceTicks.
type mockSynth struct {
	tick   int
	next   VoiceHandle
	events []sevent
	live   map[VoiceHandle]bool
}

func newMockSynth() *mockSynth {
	return &mockSynth{live: make(map[VoiceHandle]bool)}
}

func (m *mockSynth) Trigger(channel int, freq float64, velocity int) VoiceHandle {
	m.next++
	m.live[m.next] = true
	m.events = append(m.events, sevent{tick: m.tick, kind: "trigger", chann: channel, voice: m.next, value: freq, velo: velocity})
	return m.next
}

func (m *mockSynth) Release(v VoiceHandle) {
	m.events = append(m.events, sevent{tick: m.tick, kind: "release", voice: v})
}

func (m *mockSynth) SetParam(v VoiceHandle, p Param, value float64) {
	m.events = append(m.events, sevent{tick: m.tick, kind: "setparam", voice: v, param: p, value: value})
}

func (m *mockSynth) Stop(v VoiceHandle) {
	delete(m.live, v)
	m.events = append(m.events, sevent{tick: m.tick, kind: "stop", voice: v})
}

// triggers returns only the trigger events.
func (m *mockSynth) triggers() []sevent {
	var out []sevent
	for _, e := range m.events {
		if e.kind == "trigger" {
			out = append(out, e)
		}
	}
	return out
}

// paramsFor returns the values a voice received for one parameter, in
// order.
func (m *mockSynth) paramsFor(v VoiceHandle, p Param) []float64 {
	var out []float64
	for _, e := range m.events {
		if e.kind == "setparam" && e.voice == v && e.param == p {
			out = append(out, e.value)
		}
	}
	return out
}

func newTestPlayer(t *testing.T, song *Song, m *mockSynth, opts ...Option) *Player {
	t.Helper()
	p, err := NewPlayer(song, 44100, m, opts...)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	p.Start()
	return p
}

// advanceTicks sequences the player for exactly n ticks, keeping the
// mock's tick counter in lockstep. Returns true if the song ended.
func advanceTicks(p *Player, m *mockSynth, n int) bool {
	for i := 0; i < n; i++ {
		m.tick++
		if p.sequenceTick() {
			return true
		}
	}
	return false
}
