// Package playback converts static pattern/instrument data into a
// deterministic, sample-accurate stream of synthesis control events. It
// reproduces the tick-based effect semantics of the Amiga period-table
// formats (ProTracker/ScreamTracker lineage) and of macro-driven chip
// formats (AHX/Furnace lineage).
package playback

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	noteKeyOff   = 254
	maxVolume    = 64  // channel maximum volume
	noCellVolume = 255 // cell does not set a volume
)

// Note is a symbolic pitch encoded as octave*12+semitone, the same encoding
// MIDI uses. 0 means "no note", noteKeyOff releases the channel.
type Note int

var noteNames = []string{
	"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-",
}

// String returns the note in name-octave form, e.g. C-4, A#2.
func (n Note) String() string {
	switch n {
	case 0:
		return "..."
	case noteKeyOff:
		return "^^."
	default:
		return fmt.Sprintf("%s%d", noteNames[n%12], n/12-1)
	}
}

// ParseNote decodes "C-4", "A#2", "^^." or "..." into a Note.
func ParseNote(s string) (Note, error) {
	switch s {
	case "...", "":
		return 0, nil
	case "^^.":
		return noteKeyOff, nil
	}
	if len(s) != 3 {
		return 0, fmt.Errorf("bad note %q", s)
	}
	ni := -1
	for i, name := range noteNames {
		if name == s[0:2] {
			ni = i
			break
		}
	}
	oct := int(s[2] - '0')
	if ni < 0 || oct < 0 || oct > 9 {
		return 0, fmt.Errorf("bad note %q", s)
	}
	return Note((oct+1)*12 + ni), nil
}

// Format selects which legacy convention family the engine reproduces.
type Format int

const (
	// FormatAmiga is the four-channel period-table format with CIA timing.
	FormatAmiga Format = iota
	// FormatS3M is the period-table format with 2.5/BPM timing and effect
	// memory on slides.
	FormatS3M
	// FormatChip is the macro-driven chiptune format: linear frequencies,
	// per-instrument macro programs and New-Note-Actions.
	FormatChip
)

var formatNames = map[Format]string{
	FormatAmiga: "amiga",
	FormatS3M:   "s3m",
	FormatChip:  "chip",
}

func (f Format) String() string { return formatNames[f] }

func (f Format) MarshalYAML() (interface{}, error) { return formatNames[f], nil }

func (f *Format) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	for k, v := range formatNames {
		if v == s {
			*f = k
			return nil
		}
	}
	return fmt.Errorf("unknown format %q", s)
}

// NewNoteAction decides the fate of a sounding voice when a new note
// triggers on its channel.
type NewNoteAction int

const (
	NNACut      NewNoteAction = iota // stop the old voice immediately
	NNAContinue                      // leave the old voice sounding
	NNANoteOff                       // release the old voice, let it ring out
	NNAFade                          // force the old voice into a fixed-rate fade
)

var nnaNames = map[NewNoteAction]string{
	NNACut:      "cut",
	NNAContinue: "continue",
	NNANoteOff:  "noteoff",
	NNAFade:     "fade",
}

func (a NewNoteAction) String() string { return nnaNames[a] }

func (a NewNoteAction) MarshalYAML() (interface{}, error) { return nnaNames[a], nil }

func (a *NewNoteAction) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	for k, v := range nnaNames {
		if v == s {
			*a = k
			return nil
		}
	}
	return fmt.Errorf("unknown new-note-action %q", s)
}

// Macro is a per-instrument, per-parameter program: one value per tick with
// an optional sustain loop and an optional release jump point. Indices are
// validated by normalize(); a macro that fails validation degrades to "no
// modulation" rather than stopping playback.
type Macro struct {
	Values  []int `yaml:"values"`
	Loop    int   `yaml:"loop"`    // loop start index, -1 = no loop
	LoopEnd int   `yaml:"loopEnd"` // first index past the sustain loop
	Release int   `yaml:"release"` // jump target on note-off, -1 = none
}

// normalize clamps loop and release points into the value range. A macro
// with no values, or with an unusable loop, keeps playing but never loops.
func (m *Macro) normalize() {
	n := len(m.Values)
	if n == 0 {
		m.Loop, m.LoopEnd, m.Release = -1, -1, -1
		return
	}
	if m.Loop < 0 || m.Loop >= n {
		m.Loop = -1
	}
	if m.LoopEnd <= m.Loop || m.LoopEnd > n {
		m.LoopEnd = n
	}
	if m.Loop < 0 {
		m.LoopEnd = -1
	}
	if m.Release < 0 || m.Release >= n {
		m.Release = -1
	}
}

// MacroTarget names the synthesis parameter a macro drives.
type MacroTarget int

const (
	MacroVolume   MacroTarget = iota // scales channel volume, 0..64
	MacroArpeggio                    // semitone offset summed into the note
	MacroDuty                        // pulse duty, forwarded to the backend
	MacroWave                        // waveform select, forwarded to the backend
	MacroPitch                       // period/frequency offset
	MacroPan                         // overwrites channel pan, 0..127
	MacroOpLevel                     // operator level, forwarded to the backend

	macroTargetCount
)

// InstrumentMacros holds the per-target macro programs of an instrument.
// All of them run independently on the same tick clock.
type InstrumentMacros struct {
	Volume   *Macro `yaml:"volume,omitempty"`
	Arpeggio *Macro `yaml:"arpeggio,omitempty"`
	Duty     *Macro `yaml:"duty,omitempty"`
	Wave     *Macro `yaml:"wave,omitempty"`
	Pitch    *Macro `yaml:"pitch,omitempty"`
	Pan      *Macro `yaml:"pan,omitempty"`
	OpLevel  *Macro `yaml:"oplevel,omitempty"`
}

// ForTarget returns the macro driving target, or nil.
func (im *InstrumentMacros) ForTarget(t MacroTarget) *Macro {
	switch t {
	case MacroVolume:
		return im.Volume
	case MacroArpeggio:
		return im.Arpeggio
	case MacroDuty:
		return im.Duty
	case MacroWave:
		return im.Wave
	case MacroPitch:
		return im.Pitch
	case MacroPan:
		return im.Pan
	case MacroOpLevel:
		return im.OpLevel
	}
	return nil
}

// Instrument is the static definition a voice plays. The playback engine
// only reads the macros, tuning and NNA policy; the remaining parameters
// travel to the synthesis backend untouched at trigger time.
type Instrument struct {
	Name     string           `yaml:"name"`
	Volume   int              `yaml:"volume"`   // default volume 0..64
	Finetune int              `yaml:"finetune"` // -8..7, period-table row select
	BaseFreq float64          `yaml:"basefreq"` // linear-frequency reference for C-4
	NNA      NewNoteAction    `yaml:"nna"`
	FadeOut  int              `yaml:"fadeout"` // per-tick fade subtracted from a 16.16 level
	Macros   InstrumentMacros `yaml:"macros"`
}

func (ins *Instrument) normalize() {
	if ins.Volume < 0 {
		ins.Volume = 0
	}
	if ins.Volume > maxVolume {
		ins.Volume = maxVolume
	}
	if ins.Finetune < -8 {
		ins.Finetune = -8
	}
	if ins.Finetune > 7 {
		ins.Finetune = 7
	}
	if ins.BaseFreq <= 0 {
		ins.BaseFreq = middleCHz
	}
	if ins.FadeOut <= 0 {
		ins.FadeOut = defaultFadeOut
	}
	for t := MacroTarget(0); t < macroTargetCount; t++ {
		if m := ins.Macros.ForTarget(t); m != nil {
			m.normalize()
		}
	}
}

// Cell is one pattern slot: note, instrument, volume column and up to two
// effect columns. A cell with no note and no instrument leaves the
// channel's sustained state alone apart from the effects present.
type Cell struct {
	Note       Note
	Instrument int // 1-based, 0 = none
	Volume     int // raw volume column byte, noCellVolume = not set
	Effect     byte
	Param      byte
	Effect2    byte
	Param2     byte
}

// Pattern is a rows × channels grid of cells, stored row-major the way the
// player walks it.
type Pattern struct {
	Rows  int
	cells []Cell
}

func (p *Pattern) cell(row, channel, channels int) *Cell {
	return &p.cells[row*channels+channel]
}

// Song is the immutable input to the Player: order list, patterns,
// instruments and tempo defaults. The only mutations during playback happen
// through jump/break/tempo effects acting on the player's own copies.
type Song struct {
	Title        string       `yaml:"title"`
	Format       Format       `yaml:"format"`
	Channels     int          `yaml:"channels"`
	Orders       []byte       `yaml:"orders"`
	Speed        int          `yaml:"speed"` // ticks per row
	Tempo        int          `yaml:"tempo"` // beats per minute
	GlobalVolume int          `yaml:"globalvolume"`
	Polyphony    int          `yaml:"polyphony,omitempty"` // voice ceiling, 0 = default
	InitialPan   []int        `yaml:"pan,omitempty,flow"`
	Instruments  []Instrument `yaml:"instruments"`

	patterns []Pattern
}

// songFile is the YAML shape of a Song: patterns are written as rows of
// cell text, one string per row, cells separated by '|'.
type songFile struct {
	Song     `yaml:",inline"`
	Patterns [][]string `yaml:"patterns"`
}

// CellAt returns a copy of the cell at (pattern, row, channel), or a zero
// cell if the position is invalid.
func (s *Song) CellAt(pattern, row, channel int) Cell {
	if pattern < 0 || pattern >= len(s.patterns) || channel < 0 || channel >= s.Channels {
		return Cell{Volume: noCellVolume}
	}
	p := &s.patterns[pattern]
	if row < 0 || row >= p.Rows {
		return Cell{Volume: noCellVolume}
	}
	return *p.cell(row, channel, s.Channels)
}

// NumPatterns returns how many patterns the song holds.
func (s *Song) NumPatterns() int { return len(s.patterns) }

// PatternRows returns the row count of a pattern, 0 if out of range.
func (s *Song) PatternRows(pattern int) int {
	if pattern < 0 || pattern >= len(s.patterns) {
		return 0
	}
	return s.patterns[pattern].Rows
}

// normalize clamps out-of-range song data to the nearest valid value. Bad
// data never halts playback; it is repaired here once instead of being
// re-checked on every tick.
func (s *Song) normalize() error {
	if s.Channels < 1 {
		return fmt.Errorf("song has no channels")
	}
	if s.Channels > 32 {
		s.Channels = 32
	}
	if s.Speed < 1 {
		s.Speed = 6
	}
	if s.Tempo < minTempo {
		s.Tempo = 125
	}
	if s.Tempo > maxTempo {
		s.Tempo = maxTempo
	}
	if s.GlobalVolume <= 0 || s.GlobalVolume > maxVolume {
		s.GlobalVolume = maxVolume
	}
	if s.Polyphony <= 0 {
		s.Polyphony = defaultPolyphony
	}
	for i := range s.Orders {
		if int(s.Orders[i]) >= len(s.patterns) {
			s.Orders[i] = 0
		}
	}
	if len(s.Orders) == 0 {
		return fmt.Errorf("song has an empty order list")
	}
	for i := range s.Instruments {
		s.Instruments[i].normalize()
	}
	for pi := range s.patterns {
		p := &s.patterns[pi]
		for ci := range p.cells {
			c := &p.cells[ci]
			// A reference past the instrument list is left in place; the
			// player ignores it at play time and reports it once.
			if c.Instrument < 0 {
				c.Instrument = 0
			}
			if c.Note != 0 && c.Note != noteKeyOff && (c.Note < 12 || c.Note > 119) {
				c.Note = 0
			}
		}
	}
	return nil
}

// ReadSongYAML parses a song from its YAML form and normalizes it.
func ReadSongYAML(r io.Reader) (*Song, error) {
	var sf songFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("song yaml: %w", err)
	}
	song := sf.Song
	for pi, rows := range sf.Patterns {
		pat, err := parsePattern(rows, song.Channels)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", pi, err)
		}
		song.patterns = append(song.patterns, pat)
	}
	if err := song.normalize(); err != nil {
		return nil, err
	}
	return &song, nil
}

// WriteSongYAML writes the song back out in its YAML form.
func WriteSongYAML(w io.Writer, s *Song) error {
	sf := songFile{Song: *s}
	for pi := range s.patterns {
		p := &s.patterns[pi]
		rows := make([]string, p.Rows)
		for r := 0; r < p.Rows; r++ {
			cols := make([]string, s.Channels)
			for c := 0; c < s.Channels; c++ {
				cols[c] = formatCell(p.cell(r, c, s.Channels))
			}
			rows[r] = strings.Join(cols, "|")
		}
		sf.Patterns = append(sf.Patterns, rows)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(&sf)
}

// parsePattern builds a pattern from rows of cell text.
func parsePattern(rows []string, channels int) (Pattern, error) {
	p := Pattern{Rows: len(rows)}
	p.cells = make([]Cell, len(rows)*channels)
	for r, row := range rows {
		cols := strings.Split(row, "|")
		for c := 0; c < channels; c++ {
			cell := Cell{Volume: noCellVolume}
			if c < len(cols) {
				var err error
				cell, err = ParseCell(cols[c])
				if err != nil {
					return Pattern{}, fmt.Errorf("row %d channel %d: %w", r, c, err)
				}
			}
			*p.cell(r, c, channels) = cell
		}
	}
	return p, nil
}

// ParseCell decodes one cell of pattern text:
//
//	C-4 01 40 G05      play C-4, instrument 1, volume 0x40, tone portamento
//	... .. .. SB2      no note, pattern loop
//	^^. .. .. 000      note off
//	C-4 01 .. H42 X80  two effect columns
//
// Fields are note, instrument (hex), volume column (hex), and one or two
// effect columns written as a ScreamTracker-style letter command plus a two
// digit hex parameter. ".." and "..."/"000" mean "not set".
func ParseCell(s string) (Cell, error) {
	cell := Cell{Volume: noCellVolume}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return cell, nil
	}
	if len(fields) < 4 || len(fields) > 5 {
		return cell, fmt.Errorf("bad cell %q", s)
	}

	var err error
	if cell.Note, err = ParseNote(fields[0]); err != nil {
		return cell, err
	}
	if cell.Instrument, err = parseHexField(fields[1], 0); err != nil {
		return cell, fmt.Errorf("bad instrument in %q", s)
	}
	if cell.Volume, err = parseHexField(fields[2], noCellVolume); err != nil {
		return cell, fmt.Errorf("bad volume in %q", s)
	}
	if cell.Effect, cell.Param, err = parseEffectField(fields[3]); err != nil {
		return cell, err
	}
	if len(fields) == 5 {
		if cell.Effect2, cell.Param2, err = parseEffectField(fields[4]); err != nil {
			return cell, err
		}
	}
	return cell, nil
}

func formatCell(c *Cell) string {
	ins, vol := "..", ".."
	if c.Instrument != 0 {
		ins = fmt.Sprintf("%02X", c.Instrument)
	}
	if c.Volume != noCellVolume {
		vol = fmt.Sprintf("%02X", c.Volume)
	}
	out := fmt.Sprintf("%s %s %s %s", c.Note, ins, vol, formatEffect(c.Effect, c.Param))
	if c.Effect2 != 0 {
		out += " " + formatEffect(c.Effect2, c.Param2)
	}
	return out
}

func formatEffect(effect, param byte) string {
	if effect == 0 {
		return "000"
	}
	return fmt.Sprintf("%c%02X", 'A'+effect-1, param)
}

func parseHexField(s string, empty int) (int, error) {
	if s == ".." || s == "" {
		return empty, nil
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return empty, err
	}
	return int(v), nil
}

// parseEffectField decodes a letter command ("G05") into a 1-based command
// number and its parameter. "000" and "..." decode to no effect.
func parseEffectField(s string) (byte, byte, error) {
	if s == "000" || s == "..." || s == "" {
		return 0, 0, nil
	}
	if len(s) != 3 || s[0] < 'A' || s[0] > 'Z' {
		return 0, 0, fmt.Errorf("bad effect %q", s)
	}
	param, err := strconv.ParseUint(s[1:3], 16, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("bad effect %q", s)
	}
	return s[0] - 'A' + 1, byte(param), nil
}
