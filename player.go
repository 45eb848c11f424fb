package playback

import (
	"fmt"
	"io"
	"sync/atomic"

	clone "github.com/huandu/go-clone/generic"
)

// Player walks a Song's order list tick by tick and drives a synthesis
// backend through the Synth contract. It is pull-driven: the audio callback
// calls GenerateAudio, which interleaves control ticks with render calls so
// every parameter change lands on its exact sample position. All mutable
// state is owned by that single caller; the only data shared with other
// goroutines is the atomic position snapshot.
type Player struct {
	*Song
	samplingFrequency uint
	synth             Synth
	renderer          Renderer
	quirks            Quirks

	globalVolume int

	// song timing
	Tempo          int
	Speed          int
	samplesPerTick int
	pendingTempo   int // armed when the format latches BPM one tick late
	speedOverride  int // 0 = none
	tempoOverride  int // 0 = none

	// player position
	tickSamplePos int
	tick          int
	row           int
	order         int
	ordersplayed  int
	playing       bool

	// pending transport redirections, applied at the next row boundary
	pendingJump  int // order index, -1 = none
	pendingBreak int // row index, -1 = none
	pendingLoop  int // row index from a pattern loop, -1 = none
	patternDelay int // extra row-durations to hold the current row

	// Bitmask of muted channels, channel 1 in LSB.
	Mute uint

	PlayOrderLimit int // maximum number of orders to play, -1 = no limit

	loop     []loopinfo
	channels []channel

	voiceSeq   uint64
	voiceCount int
	polyphony  int

	pos         atomic.Uint64   // packed Position snapshot
	chanDisplay []atomic.Uint64 // packed per-channel ChannelState snapshots
	starved     atomic.Uint64
	budget      int // tick lookahead budget per GenerateAudio call

	warnedStarved bool
	warnedMissing bool
}

type loopinfo struct {
	start int
	count int
}

// Position is a read-only playhead snapshot, safe to take from any
// goroutine while the audio thread plays.
type Position struct {
	Order   int
	Pattern int
	Row     int
	Tick    int
}

// ChannelNoteData is the display form of one cell, used by the UI tools.
type ChannelNoteData struct {
	Note       string
	Instrument int
	Volume     int
	Effect     byte
	Param      byte
}

// String returns a formatted string of the note data.
func (c *ChannelNoteData) String() string {
	return fmt.Sprintf("%s %02X %s", c.Note, c.Instrument, formatEffect(c.Effect, c.Param))
}

// ChannelState is the display form of one channel's runtime state.
type ChannelState struct {
	Instrument int // -1 if nothing has been named on the channel
	Voices     int
}

// State holds player position plus per-channel display data for the UI
// tools.
type State struct {
	Position
	Notes    []ChannelNoteData
	Channels []ChannelState
}

var dumpW io.Writer

// SetDumpWriter directs engine diagnostics to w. Diagnostics are rare
// (missing references, scheduler starvation) and logged once per player.
func SetDumpWriter(w io.Writer) { dumpW = w }

func dumpf(format string, a ...interface{}) {
	if dumpW == nil {
		return
	}
	fmt.Fprintf(dumpW, format, a...)
}

// Option configures a Player at construction time.
type Option func(*Player)

// WithQuirks overrides the quirk set derived from the song's format tag.
func WithQuirks(q Quirks) Option {
	return func(p *Player) { p.quirks = q }
}

// WithLookahead sets how many ticks one GenerateAudio call may compute
// before the player reports scheduler starvation.
func WithLookahead(ticks int) Option {
	return func(p *Player) {
		if ticks > 0 {
			p.budget = ticks
		}
	}
}

// NewPlayer returns a stopped Player for the given song. The song is deep
// copied so later edits to the caller's copy cannot race playback. synth
// receives the control events; if it also implements Renderer then
// GenerateAudio produces audio through it.
func NewPlayer(song *Song, samplingFrequency uint, synth Synth, opts ...Option) (*Player, error) {
	if err := song.normalize(); err != nil {
		return nil, err
	}
	song = clone.Clone(song)

	player := &Player{
		Song:              song,
		samplingFrequency: samplingFrequency,
		synth:             synth,
		quirks:            QuirksForFormat(song.Format),
		globalVolume:      song.GlobalVolume,
		Speed:             song.Speed,
		PlayOrderLimit:    -1,
		budget:            64,
	}
	if r, ok := synth.(Renderer); ok {
		player.renderer = r
	}
	for _, opt := range opts {
		opt(player)
	}

	player.polyphony = song.Polyphony
	if player.polyphony < song.Channels {
		player.polyphony = song.Channels
	}
	player.loop = make([]loopinfo, song.Channels)
	player.channels = make([]channel, song.Channels)
	player.chanDisplay = make([]atomic.Uint64, song.Channels)

	player.reset()
	return player, nil
}

// Start begins (or resumes) playback. GenerateAudio advances the song
// position from here on.
func (p *Player) Start() {
	p.playing = true
}

// Stop halts playback synchronously. Every sounding voice receives a Stop
// before this returns; no voice dangles.
func (p *Player) Stop() {
	p.playing = false
	p.forceAllOff()
}

// IsPlaying reports whether the song is being played.
func (p *Player) IsPlaying() bool {
	return p.playing
}

// Position returns the current playhead, assembled from an atomic snapshot
// so it is safe to call from a UI goroutine during playback.
func (p *Player) Position() Position {
	v := p.pos.Load()
	return Position{
		Order:   int(v>>40) & 0xFFFF,
		Pattern: int(v>>24) & 0xFFFF,
		Row:     int(v>>8) & 0xFFFF,
		Tick:    int(v) & 0xFF,
	}
}

func (p *Player) publishPosition() {
	row := p.row
	if row < 0 {
		row = 0
	}
	order := p.order
	if order >= len(p.Orders) {
		order = len(p.Orders) - 1
	}
	v := uint64(order)&0xFFFF<<40 |
		uint64(p.Orders[order])&0xFFFF<<24 |
		uint64(row)&0xFFFF<<8 |
		uint64(p.tick)&0xFF
	p.pos.Store(v)

	for i := range p.channels {
		c := &p.channels[i]
		vc := c.voiceCount()
		if vc > 0xFF {
			vc = 0xFF
		}
		p.chanDisplay[i].Store(uint64(uint16(c.instrument))<<8 | uint64(vc))
	}
}

// StarvedTicks reports how many ticks were computed past the lookahead
// budget. A non-zero value is a performance symptom, never a data problem.
func (p *Player) StarvedTicks() uint64 { return p.starved.Load() }

// SetSpeedOverride pins the ticks-per-row value regardless of in-pattern
// speed effects. 0 clears the override.
func (p *Player) SetSpeedOverride(speed int) {
	if speed < 0 {
		speed = 0
	}
	p.speedOverride = speed
}

// SetTempoOverride pins the BPM regardless of in-pattern tempo effects.
// 0 clears the override.
func (p *Player) SetTempoOverride(bpm int) {
	p.tempoOverride = bpm
	p.applyTempo(p.Tempo)
}

// SeekTo sets the playhead. Out-of-range positions clamp. Channel effect
// state is deliberately left alone, the way the classic players behave on
// a pattern seek.
func (p *Player) SeekTo(order, row int) {
	if order < 0 {
		order = 0
	} else if order >= len(p.Orders) {
		order = len(p.Orders) - 1
	}
	p.order = order

	rows := p.PatternRows(int(p.Orders[order]))
	if row < 0 {
		row = 0
	} else if row >= rows {
		row = rows - 1
	}
	p.row = row - 1
	p.tick = p.currentSpeed() - 1
	p.pendingJump, p.pendingBreak, p.pendingLoop = -1, -1, -1
	p.patternDelay = 0
	p.publishPosition()
}

// ActiveVoiceCount returns how many voices are sounding on one channel, or
// across the whole player when channel is -1.
func (p *Player) ActiveVoiceCount(ch int) int {
	if ch >= 0 && ch < len(p.channels) {
		return p.channels[ch].voiceCount()
	}
	return p.voiceCount
}

// NoteDataFor returns display note data for (order, row), or nil when the
// position is invalid.
func (p *Player) NoteDataFor(order, row int) []ChannelNoteData {
	if order < 0 || order >= len(p.Orders) {
		return nil
	}
	pattern := int(p.Orders[order])
	if row < 0 || row >= p.PatternRows(pattern) {
		return nil
	}
	nd := make([]ChannelNoteData, p.Channels)
	for i := 0; i < p.Channels; i++ {
		cell := p.CellAt(pattern, row, i)
		nd[i] = ChannelNoteData{
			Note:       cell.Note.String(),
			Instrument: cell.Instrument,
			Volume:     cell.Volume,
			Effect:     cell.Effect,
			Param:      cell.Param,
		}
	}
	return nd
}

// PlayerState returns the current player and channel state for display.
// Like Position, it reads only atomic snapshots published at each tick, so
// a UI goroutine may poll it during playback.
func (p *Player) PlayerState() State {
	st := State{Position: p.Position()}
	st.Notes = p.NoteDataFor(st.Order, st.Row)
	st.Channels = make([]ChannelState, len(p.chanDisplay))
	for i := range p.chanDisplay {
		v := p.chanDisplay[i].Load()
		st.Channels[i] = ChannelState{Instrument: int(v>>8) - 1, Voices: int(v & 0xFF)}
	}
	return st
}

func (p *Player) reset() {
	p.playing = false
	p.forceAllOff()

	p.Speed = p.Song.Speed
	p.applyTempo(p.Song.Tempo)
	p.pendingTempo = 0
	p.order = 0
	p.ordersplayed = 0
	p.pendingJump, p.pendingBreak, p.pendingLoop = -1, -1, -1
	p.patternDelay = 0
	p.globalVolume = p.Song.GlobalVolume

	// Counters set up so the first sequenced tick lands on row 0, tick 0.
	p.tick = p.currentSpeed() - 1
	p.row = -1
	p.tickSamplePos = p.samplesPerTick

	for i := range p.channels {
		pan := 64
		if i < len(p.InitialPan) {
			pan = clampPan(p.InitialPan[i])
		}
		p.channels[i].reset(pan)
		p.loop[i] = loopinfo{}
	}
	p.publishPosition()
}

// forceAllOff stops every voice on every channel through the backend.
func (p *Player) forceAllOff() {
	for i := range p.channels {
		c := &p.channels[i]
		if c.cur != nil {
			p.synth.Stop(c.cur.handle)
			c.cur = nil
		}
		for _, v := range c.bg {
			p.synth.Stop(v.handle)
		}
		c.bg = nil
	}
	p.voiceCount = 0
}

func (p *Player) currentSpeed() int {
	if p.speedOverride > 0 {
		return p.speedOverride
	}
	return p.Speed
}

func (p *Player) applyTempo(bpm int) {
	if bpm < minTempo {
		bpm = minTempo
	}
	if bpm > maxTempo {
		bpm = maxTempo
	}
	p.Tempo = bpm
	// The override shapes the tick length but leaves the song tempo
	// intact, so clearing it falls back to where the song left off.
	if p.tempoOverride > 0 {
		bpm = p.tempoOverride
		if bpm > maxTempo {
			bpm = maxTempo
		}
	}
	p.samplesPerTick = int(float64(p.samplingFrequency) / p.quirks.ticksPerSecond(bpm))
}

func (p *Player) setTempo(bpm int) {
	if p.quirks.TempoChangeNextTick {
		p.pendingTempo = bpm
		return
	}
	p.applyTempo(bpm)
}

// sequenceTick advances playback by one tick. Within a tick the order is
// fixed: row-start one-shots for every channel first, then macro steps for
// every voice, then the continuous effects, and only then do the combined
// pitch/volume values flow to the backend. Effects therefore land after
// macros and can override or add to their output.
//
// Returns whether the end of the song was reached.
func (p *Player) sequenceTick() bool {
	if p.pendingTempo != 0 {
		p.applyTempo(p.pendingTempo)
		p.pendingTempo = 0
	}

	p.tick++
	if p.tick >= p.currentSpeed() {
		p.tick = 0
		if p.advanceRow() {
			return true
		}
	}

	for i := range p.channels {
		c := &p.channels[i]
		if c.cur != nil {
			c.cur.macroTick()
		}
		for _, v := range c.bg {
			v.macroTick()
		}
	}

	if p.tick > 0 {
		for i := range p.channels {
			p.channelTick(i)
		}
	}

	for i := range p.channels {
		p.emitChannel(i)
	}
	p.publishPosition()

	return false
}

// advanceRow is the transport: pattern delay, pattern loop jumps, pending
// break/jump targets and the plain order-list walk, in that priority.
func (p *Player) advanceRow() bool {
	if p.patternDelay > 0 {
		// Hold the current row for another row-duration. Continuous
		// effects keep ticking; the row-start one-shots do not re-run.
		p.patternDelay--
		return false
	}

	switch {
	case p.pendingLoop >= 0:
		p.row = p.pendingLoop
		p.pendingLoop = -1
	case p.pendingJump >= 0 || p.pendingBreak >= 0:
		if p.pendingJump >= 0 {
			p.order = p.pendingJump
		} else {
			p.order++
		}
		p.ordersplayed++
		row := 0
		if p.pendingBreak >= 0 {
			row = p.pendingBreak
		}
		p.pendingJump, p.pendingBreak = -1, -1
		if p.checkSongEnd() {
			return true
		}
		if row >= p.PatternRows(int(p.Orders[p.order])) {
			row = 0
		}
		p.row = row
	default:
		p.row++
		if p.row >= p.PatternRows(int(p.Orders[p.order])) {
			p.row = 0
			p.order++
			p.ordersplayed++
			if p.checkSongEnd() {
				return true
			}
		}
	}

	pattern := int(p.Orders[p.order])
	for i := 0; i < p.Channels; i++ {
		p.rowStart(i, p.CellAt(pattern, p.row, i))
	}
	return false
}

func (p *Player) checkSongEnd() bool {
	endOfSong := p.order >= len(p.Orders)
	limitReached := p.PlayOrderLimit != -1 && p.ordersplayed >= p.PlayOrderLimit
	if endOfSong || limitReached {
		p.reset()
		return true
	}
	return false
}

// rowStart processes one channel's cell on tick 0 of a row: normalize the
// effect and volume columns into tagged operations, handle the instrument
// and note columns, apply the one-shot operations and arm the continuous
// ones.
func (p *Player) rowStart(ci int, cell Cell) {
	c := &p.channels[ci]
	c.tickCounter = 0
	c.vibAdjust = 0
	c.tremAdjust = 0
	c.hasDelayed = false
	c.sampleOffset = 0

	ops := [2]effectOp{
		parseEffect(cell.Effect, cell.Param),
		parseEffect(cell.Effect2, cell.Param2),
	}
	volDirect := -1
	if cell.Volume != noCellVolume {
		if p.quirks.VolumeColumn {
			var volOp effectOp
			volDirect, volOp = parseVolumeColumn(cell.Volume)
			if volOp.kind != effNone && ops[1].kind == effNone {
				ops[1] = volOp
			}
		} else if cell.Volume <= maxVolume {
			volDirect = cell.Volume
		}
	}
	c.armed = ops

	// A note delay postpones the whole cell to an exact later tick. A
	// delay at or past the row's tick count never fires, so the cell is
	// dropped whole, the way the inherited replayers behave.
	if op, ok := findOp(ops, effNoteDelay); ok && op.param > 0 {
		c.delayed = cell
		c.hasDelayed = true
		c.volumeToPlay = volDirect
		return
	}

	// An instrument without a note re-arms the default volume and, when it
	// names a different instrument, silences the sustained note. Matches
	// the reference trackers.
	if cell.Instrument > 0 {
		if cell.Instrument > len(p.Instruments) {
			p.warnMissing(cell.Instrument)
		} else {
			ins := &p.Instruments[cell.Instrument-1]
			if volDirect < 0 {
				volDirect = ins.Volume
			}
			if cell.Note == 0 && c.instrument != cell.Instrument && c.cur != nil {
				p.synth.Stop(c.cur.handle)
				c.cur = nil
				p.voiceCount--
			}
			c.instrument = cell.Instrument
			c.finetune = ins.Finetune
		}
	}

	tonePorta := hasOp(ops, effTonePorta) || hasOp(ops, effTonePortaVolSlide)
	switch {
	case cell.Note == noteKeyOff:
		p.noteOffChannel(c)
	case cell.Note != 0:
		if tonePorta && c.cur != nil {
			// Arm the glide target instead of retriggering.
			c.portaTarget = periodForNote(cell.Note, c.finetune)
			c.note = cell.Note
		} else {
			for _, op := range ops {
				// The offset must be armed before the trigger consumes it.
				if op.kind == effSampleOffset {
					p.applyRowStartOp(ci, op, cell)
				}
			}
			p.triggerNote(ci, cell.Note, volDirect)
		}
	}

	if volDirect >= 0 {
		c.volume = clampVolume(volDirect)
	}

	for _, op := range ops {
		if op.kind == effSampleOffset && cell.Note != 0 && cell.Note != noteKeyOff && !tonePorta {
			continue // already applied above
		}
		p.applyRowStartOp(ci, op, cell)
	}
}

func findOp(ops [2]effectOp, kind effectKind) (effectOp, bool) {
	for _, op := range ops {
		if op.kind == kind {
			return op, true
		}
	}
	return effectOp{}, false
}

func hasOp(ops [2]effectOp, kind effectKind) bool {
	_, ok := findOp(ops, kind)
	return ok
}

// applyRowStartOp performs the tick-zero half of one operation: one-shots
// apply here, continuous operations update their memories and wait for
// channelTick.
func (p *Player) applyRowStartOp(ci int, op effectOp, cell Cell) {
	c := &p.channels[ci]
	switch op.kind {
	case effSetSpeed:
		if op.param > 0 {
			p.Speed = int(op.param)
		}
	case effSetTempo:
		if int(op.param) >= minTempo {
			p.setTempo(int(op.param))
		}
	case effPositionJump:
		if int(op.param) < len(p.Orders) {
			p.pendingJump = int(op.param)
		}
	case effPatternBreak:
		p.pendingBreak = int(op.param>>4)*10 + int(op.param&0xF)
	case effPatternLoop:
		if op.param == 0 {
			p.loop[ci].start = p.row
			break
		}
		if p.loop[ci].count > 0 {
			p.loop[ci].count--
			if p.loop[ci].count > 0 {
				p.pendingLoop = p.loop[ci].start
			}
		} else {
			p.loop[ci].count = int(op.param)
			p.pendingLoop = p.loop[ci].start
		}
	case effPatternDelay:
		// Honored only when no delay is already pending.
		if p.patternDelay == 0 && op.param > 0 {
			p.patternDelay = int(op.param)
		}
	case effSetPan:
		c.pan = clampPan(int(op.param))
	case effSetGlobalVolume:
		p.globalVolume = clampVolume(int(op.param))
	case effSampleOffset:
		if op.param > 0 {
			c.mem[effSampleOffset] = op.param
		}
		c.sampleOffset = int(c.mem[effSampleOffset]) << 8
	case effSetVolume:
		c.volume = clampVolume(int(op.param))
	case effSetFinetune:
		c.finetune = int(op.param)
		if c.finetune > 7 {
			c.finetune -= 16
		}
	case effGlissandoControl:
		c.glissando = op.param != 0
	case effVibratoWaveform:
		if op.param < 8 {
			c.vibWave = waveSelect(op.param)
		}
	case effTremoloWaveform:
		if op.param < 8 {
			c.tremWave = waveSelect(op.param)
		}
	case effTonePorta:
		if op.param > 0 {
			c.portaSpeed = int(op.param)
		}
	case effVibrato:
		if op.param>>4 > 0 {
			c.vibSpeed = int(op.param >> 4)
		}
		if op.param&0xF > 0 {
			c.vibDepth = int(op.param & 0xF)
		}
	case effVibratoVolSlide:
		if op.param > 0 {
			c.mem[effVolumeSlide] = op.param
		}
	case effTremolo:
		if op.param>>4 > 0 {
			c.tremSpeed = int(op.param >> 4)
		}
		if op.param&0xF > 0 {
			c.tremDepth = int(op.param & 0xF)
		}
	case effVolumeSlide, effTonePortaVolSlide:
		if op.param > 0 {
			c.mem[effVolumeSlide] = op.param
		}
		if op.kind == effVolumeSlide {
			c.fineVolumeSlide()
		}
	case effPortaUp, effPortaDown:
		if op.param > 0 {
			c.mem[effPortaUp] = op.param
		}
		p.finePorta(c, op.kind)
	case effRetrigger:
		if op.param > 0 {
			c.mem[effRetrigger] = op.param
		}
		// A retrigger with remembered parameters and no fresh note still
		// retriggers through the row, starting on tick 0. A fresh note
		// already sounded, so it must not double up here.
		if cell.Note == 0 && c.mem[effRetrigger]&0xF != 0 && c.cur != nil {
			p.retrigger(ci)
		}
	case effNoteCut:
		if op.param == 0 {
			c.volume = 0
		}
	}
}

// finePorta applies the tick-zero half of Exx/Fxx: xEy slides by y once,
// xFy by y*4 once. Ordinary parameters wait for channelTick.
func (p *Player) finePorta(c *channel, kind effectKind) {
	if c.mem[effPortaUp] < 0xE0 {
		return
	}
	delta := int(c.mem[effPortaUp] & 0xF)
	if c.mem[effPortaUp]>>4 == 0xF {
		delta *= 4
	}
	if kind == effPortaUp {
		delta = -delta
	}
	c.slidePeriod(delta, &p.quirks)
}

// channelTick re-applies the armed continuous operations on an in-between
// tick.
func (p *Player) channelTick(ci int) {
	c := &p.channels[ci]
	c.tickCounter++

	if c.hasDelayed {
		if op, ok := findOp(c.armed, effNoteDelay); ok && p.tick == int(op.param) {
			cell := c.delayed
			c.hasDelayed = false
			if cell.Instrument > 0 && cell.Instrument <= len(p.Instruments) {
				c.instrument = cell.Instrument
			}
			if cell.Note != 0 && cell.Note != noteKeyOff {
				p.triggerNote(ci, cell.Note, c.volumeToPlay)
			} else if cell.Note == noteKeyOff {
				p.noteOffChannel(c)
			}
			if c.volumeToPlay >= 0 {
				c.volume = clampVolume(c.volumeToPlay)
			}
		}
		return
	}

	for _, op := range c.armed {
		if !effectTraitsTab[op.kind].continuous {
			continue
		}
		switch op.kind {
		case effArpeggio:
			// pitch substitution happens in emitChannel; tick 0 always
			// plays the base note
		case effPortaUp:
			if c.mem[effPortaUp] < 0xE0 {
				c.slidePeriod(-int(c.mem[effPortaUp]), &p.quirks)
			}
		case effPortaDown:
			if c.mem[effPortaUp] < 0xE0 {
				c.slidePeriod(int(c.mem[effPortaUp]), &p.quirks)
			}
		case effTonePorta:
			c.portaToNote()
		case effTonePortaVolSlide:
			c.portaToNote()
			c.volumeSlide()
		case effVibrato:
			c.vibratoTick(&p.quirks)
		case effVibratoVolSlide:
			c.vibratoTick(&p.quirks)
			c.volumeSlide()
		case effTremolo:
			c.tremoloTick()
		case effTremor:
			c.tremorTick(op.param)
		case effVolumeSlide:
			c.volumeSlide()
		case effRetrigger:
			every := int(c.mem[effRetrigger] & 0xF)
			if every > 0 && c.tickCounter >= every {
				c.tickCounter = 0
				p.retrigger(ci)
			}
		case effNoteCut:
			// exact-tick comparison, never "at or after"
			if p.tick == int(op.param) {
				c.volume = 0
			}
		}
	}
}

// retrigger restarts the channel's current note, applying the volume change
// selected by the high nibble of the remembered retrigger parameter.
func (p *Player) retrigger(ci int) {
	c := &p.channels[ci]
	if c.note == 0 {
		return
	}
	c.volume = retrigVolume(int(c.mem[effRetrigger]>>4), c.volume)
	p.triggerNote(ci, c.note, c.volume)
}

// noteOffChannel releases the channel's foreground voice: its macros jump
// to their release points and the backend gets a Release, never a Stop.
func (p *Player) noteOffChannel(c *channel) {
	c.noteOff = true
	if c.cur == nil {
		return
	}
	c.cur.release()
	p.synth.Release(c.cur.handle)
}

// triggerNote starts a new note on a channel, arbitrating the fate of any
// voice already sounding there through the instrument's New-Note-Action.
func (p *Player) triggerNote(ci int, note Note, vol int) {
	c := &p.channels[ci]
	if c.instrument == 0 || c.instrument > len(p.Instruments) {
		// No instrument has ever been named on this channel.
		return
	}
	inst := &p.Instruments[c.instrument-1]
	if vol < 0 {
		vol = inst.Volume
	}

	if c.cur != nil {
		nna := NNACut
		if p.quirks.NewNoteActions {
			nna = c.cur.inst.NNA
		}
		switch nna {
		case NNACut:
			p.synth.Stop(c.cur.handle)
			p.voiceCount--
		case NNAContinue:
			c.bg = append(c.bg, c.cur)
		case NNANoteOff:
			c.cur.release()
			p.synth.Release(c.cur.handle)
			c.bg = append(c.bg, c.cur)
		case NNAFade:
			c.cur.startFade()
			c.bg = append(c.bg, c.cur)
		}
		c.cur = nil
	}

	if p.voiceCount >= p.polyphony {
		p.stealVoice()
	}

	c.note = note
	c.period = periodForNote(note, c.finetune)
	c.noteOff = false
	c.resetNoteState()

	freq := ResolveFrequency(note, c.finetune, inst.BaseFreq, &p.quirks)
	p.voiceSeq++
	handle := p.synth.Trigger(ci, freq, clampVolume(vol))
	if handle == NoVoice {
		return
	}
	c.cur = newVoice(handle, p.voiceSeq, inst, note, clampVolume(vol))
	p.voiceCount++

	if c.sampleOffset > 0 {
		p.synth.SetParam(handle, ParamSampleOffset, float64(c.sampleOffset))
	}
}

// stealVoice frees the oldest fading background voice to stay under the
// polyphony ceiling. A voice still in its main phase is only taken when
// nothing released exists, and then the oldest background one; the freshly
// triggered note is never the one dropped.
func (p *Player) stealVoice() {
	var best *voice
	bestCh, bestIdx := -1, -1
	bestReleased := false
	for ci := range p.channels {
		c := &p.channels[ci]
		for vi, v := range c.bg {
			released := v.released || v.fadeRate > 0
			better := false
			switch {
			case best == nil:
				better = true
			case released && !bestReleased:
				better = true
			case released == bestReleased && v.age > best.age:
				better = true
			case released == bestReleased && v.age == best.age && v.id < best.id:
				better = true
			}
			if better {
				best, bestCh, bestIdx, bestReleased = v, ci, vi, released
			}
		}
	}
	if best == nil {
		return
	}
	p.synth.Stop(best.handle)
	c := &p.channels[bestCh]
	c.bg = append(c.bg[:bestIdx], c.bg[bestIdx+1:]...)
	p.voiceCount--
}

func (p *Player) warnMissing(instrument int) {
	if p.warnedMissing {
		return
	}
	p.warnedMissing = true
	dumpf("playback: reference to missing instrument %d, ignoring\n", instrument)
}

// emitChannel pushes the tick's combined parameter values to the backend
// and reaps voices that finished decaying.
func (p *Player) emitChannel(ci int) {
	c := &p.channels[ci]

	if v := c.cur; v != nil {
		vol := clampVolume(c.volume + c.tremAdjust)
		if c.tremorMute || p.Mute&(1<<uint(ci)) != 0 {
			vol = 0
		}
		if mv, ok := v.macroValue(MacroVolume); ok {
			vol = vol * clampVolume(mv) / maxVolume
		}
		vol = (vol * (v.fade >> 8)) >> 8
		vol = vol * p.globalVolume / maxVolume

		pan := c.pan
		if pv, ok := v.macroValue(MacroPan); ok {
			pan = clampPan(pv)
		}

		p.synth.SetParam(v.handle, ParamFrequency, p.channelFrequency(c, v))
		p.synth.SetParam(v.handle, ParamVolume, float64(vol))
		p.synth.SetParam(v.handle, ParamPan, float64(pan))
		if dv, ok := v.macroValue(MacroDuty); ok {
			p.synth.SetParam(v.handle, ParamDuty, float64(dv))
		}
		if wv, ok := v.macroValue(MacroWave); ok {
			p.synth.SetParam(v.handle, ParamWave, float64(wv))
		}
		if ov, ok := v.macroValue(MacroOpLevel); ok {
			p.synth.SetParam(v.handle, ParamOpLevel, float64(ov))
		}

		if v.finished() {
			p.synth.Stop(v.handle)
			c.cur = nil
			p.voiceCount--
		}
	}

	// Background voices follow only their own macro programs.
	kept := c.bg[:0]
	for _, v := range c.bg {
		if v.finished() {
			p.synth.Stop(v.handle)
			p.voiceCount--
			continue
		}
		vol := v.volume() * p.globalVolume / maxVolume
		p.synth.SetParam(v.handle, ParamVolume, float64(vol))
		if off, ok := v.macroValue(MacroArpeggio); ok {
			freq := ResolveFrequency(v.note+Note(off), v.inst.Finetune, v.inst.BaseFreq, &p.quirks)
			p.synth.SetParam(v.handle, ParamFrequency, freq)
		}
		kept = append(kept, v)
	}
	c.bg = kept
}

// channelFrequency combines the tick's pitch sources for the foreground
// voice: the slid period or base note, arpeggio from both the effect and
// the macro, vibrato and the pitch macro.
func (p *Player) channelFrequency(c *channel, v *voice) float64 {
	arp := 0
	if mv, ok := v.macroValue(MacroArpeggio); ok {
		arp += mv
	}
	if op, ok := findOp(c.armed, effArpeggio); ok {
		switch p.tick % 3 {
		case 1:
			arp += int(op.param >> 4)
		case 2:
			arp += int(op.param & 0xF)
		}
	}

	if p.quirks.LinearFrequency {
		semis := float64(int(c.note)-noteC4) + float64(arp) + float64(c.finetune)/8
		if pv, ok := v.macroValue(MacroPitch); ok {
			semis += float64(pv) / 16
		}
		semis -= float64(c.vibAdjust) / 64
		base := v.inst.BaseFreq
		if base <= 0 {
			base = middleCHz
		}
		return linearFrequency(base, semis)
	}

	period := c.period
	if c.glissando && c.portaTarget != 0 {
		// Glissando quantizes the emitted pitch to discrete table steps
		// while the underlying slide keeps interpolating.
		period = nearestLowerPeriod(period, c.finetune)
	}
	if arp != 0 {
		// Arpeggio substitutes the table period for the offset note; the
		// base pitch returns by itself on the next tick 0.
		period = periodForNote(c.note+Note(arp), c.finetune)
	}
	period += c.vibAdjust
	if pv, ok := v.macroValue(MacroPitch); ok {
		period += pv
	}
	if period < 1 {
		period = 1
	}
	return amigaFrequency(period)
}

// GenerateAudio advances the player and, when the backend renders, fills
// out with stereo samples (LRLR...). It returns the number of stereo
// frames generated. The player never blocks here: if one call asks for
// more ticks than the lookahead budget allows the shortfall is counted and
// surfaced through StarvedTicks rather than absorbed silently.
func (p *Player) GenerateAudio(out []int16) int {
	if !p.playing {
		return 0
	}

	count := len(out) / 2
	offset := 0
	generated := 0
	ticksThisCall := 0

	for count > 0 {
		if p.tickSamplePos >= p.samplesPerTick {
			if ticksThisCall >= p.budget {
				p.reportStarvation()
			}
			if p.sequenceTick() {
				break // end of song
			}
			ticksThisCall++
			p.tickSamplePos = 0
		}

		remain := p.samplesPerTick - p.tickSamplePos
		if remain > count {
			remain = count
		}
		if p.renderer != nil {
			p.renderer.Render(out[offset*2 : (offset+remain)*2])
		}

		p.tickSamplePos += remain
		offset += remain
		generated += remain
		count -= remain
	}

	return generated
}

func (p *Player) reportStarvation() {
	p.starved.Add(1)
	if !p.warnedStarved {
		p.warnedStarved = true
		dumpf("playback: scheduler starved, tick lookahead budget %d exceeded\n", p.budget)
	}
}
