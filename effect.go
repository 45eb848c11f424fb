package playback

// Effect parsing. A cell's effect columns and its volume column are all
// normalized here, once per row, into a single closed set of tagged
// operations. The per-tick switch over effectKind is exhaustive; nothing
// downstream ever looks at raw command bytes again.

// Letter commands as stored in Cell.Effect (1 = 'A', 2 = 'B', ...). The
// pattern text form follows the ScreamTracker lettering.
const (
	cmdNone              byte = 0
	cmdSetSpeed          byte = 1  // Axx
	cmdPositionJump      byte = 2  // Bxx
	cmdPatternBreak      byte = 3  // Cxx
	cmdVolumeSlide       byte = 4  // Dxy (DFy/DxF = fine)
	cmdPortaDown         byte = 5  // Exx (EEx/EFx = extra fine/fine)
	cmdPortaUp           byte = 6  // Fxx (FEx/FFx = extra fine/fine)
	cmdTonePorta         byte = 7  // Gxx
	cmdVibrato           byte = 8  // Hxy
	cmdTremor            byte = 9  // Ixy
	cmdArpeggio          byte = 10 // Jxy
	cmdVibratoVolSlide   byte = 11 // Kxy
	cmdTonePortaVolSlide byte = 12 // Lxy
	cmdSampleOffset      byte = 15 // Oxx
	cmdRetrigger         byte = 17 // Qxy
	cmdTremolo           byte = 18 // Rxy
	cmdExtended          byte = 19 // Sxy
	cmdSetTempo          byte = 20 // Txx
	cmdGlobalVolume      byte = 22 // Vxx
	cmdSetPan            byte = 24 // Xxx
)

// Extended (Sxy) sub-commands, selected by the high nibble of the param.
const (
	extGlissandoControl = 0x1
	extSetFinetune      = 0x2
	extVibratoWaveform  = 0x3
	extTremoloWaveform  = 0x4
	extCoarsePan        = 0x8
	extPatternLoop      = 0xB
	extNoteCut          = 0xC
	extNoteDelay        = 0xD
	extPatternDelay     = 0xE
)

type effectKind uint8

const (
	effNone effectKind = iota
	effArpeggio
	effPortaUp
	effPortaDown
	effTonePorta
	effTonePortaVolSlide
	effVibrato
	effVibratoVolSlide
	effTremolo
	effTremor
	effVolumeSlide
	effSetVolume
	effSetPan
	effSetGlobalVolume
	effSampleOffset
	effPositionJump
	effPatternBreak
	effSetSpeed
	effSetTempo
	effRetrigger
	effNoteCut
	effNoteDelay
	effPatternLoop
	effPatternDelay
	effGlissandoControl
	effVibratoWaveform
	effTremoloWaveform
	effSetFinetune

	effectKindCount
)

// effectOp is the parsed form of one effect column.
type effectOp struct {
	kind  effectKind
	param byte
}

// effectTraits declares, per operation, whether it re-applies on the
// in-between ticks of a row and whether its accumulated channel memory
// survives a new note on the same channel. The formats differ on the
// latter and getting it wrong is the classic source of audible bugs, so it
// is declared data, never inferred.
type effectTraits struct {
	continuous bool
	carries    bool
}

var effectTraitsTab = [effectKindCount]effectTraits{
	effArpeggio:          {continuous: true},
	effPortaUp:           {continuous: true, carries: true},
	effPortaDown:         {continuous: true, carries: true},
	effTonePorta:         {continuous: true, carries: true}, // speed carries; the target re-arms per note
	effTonePortaVolSlide: {continuous: true, carries: true},
	effVibrato:           {continuous: true, carries: true}, // speed/depth carry; phase resets unless the waveform says not to
	effVibratoVolSlide:   {continuous: true, carries: true},
	effTremolo:           {continuous: true, carries: true},
	effTremor:            {continuous: true},
	effVolumeSlide:       {continuous: true, carries: true},
	effRetrigger:         {continuous: true, carries: true},
	effNoteCut:           {continuous: true},
	effNoteDelay:         {continuous: true},
	effSampleOffset:      {carries: true},
}

// memSlot maps an operation to the memory slot holding its remembered
// parameter. The S3M lineage aliases several commands onto one memory:
// the volume-slide half of Kxy and Lxy reuses Dxy's, and the two
// portamento directions share one parameter.
func memSlot(k effectKind) effectKind {
	switch k {
	case effVibratoVolSlide, effTonePortaVolSlide:
		return effVolumeSlide
	case effPortaDown:
		return effPortaUp
	}
	return k
}

// parseEffect maps one effect column to its tagged operation. Unknown
// commands decode to effNone: malformed data plays on as a no-op.
func parseEffect(cmd, param byte) effectOp {
	switch cmd {
	case cmdSetSpeed:
		return effectOp{effSetSpeed, param}
	case cmdPositionJump:
		return effectOp{effPositionJump, param}
	case cmdPatternBreak:
		return effectOp{effPatternBreak, param}
	case cmdVolumeSlide:
		return effectOp{effVolumeSlide, param}
	case cmdPortaDown:
		return effectOp{effPortaDown, param}
	case cmdPortaUp:
		return effectOp{effPortaUp, param}
	case cmdTonePorta:
		return effectOp{effTonePorta, param}
	case cmdVibrato:
		return effectOp{effVibrato, param}
	case cmdTremor:
		return effectOp{effTremor, param}
	case cmdArpeggio:
		if param == 0 {
			return effectOp{}
		}
		return effectOp{effArpeggio, param}
	case cmdVibratoVolSlide:
		return effectOp{effVibratoVolSlide, param}
	case cmdTonePortaVolSlide:
		return effectOp{effTonePortaVolSlide, param}
	case cmdSampleOffset:
		return effectOp{effSampleOffset, param}
	case cmdRetrigger:
		return effectOp{effRetrigger, param}
	case cmdTremolo:
		return effectOp{effTremolo, param}
	case cmdSetTempo:
		return effectOp{effSetTempo, param}
	case cmdGlobalVolume:
		return effectOp{effSetGlobalVolume, param}
	case cmdSetPan:
		return effectOp{effSetPan, param}
	case cmdExtended:
		sub, y := param>>4, param&0xF
		switch sub {
		case extGlissandoControl:
			return effectOp{effGlissandoControl, y}
		case extSetFinetune:
			return effectOp{effSetFinetune, y}
		case extVibratoWaveform:
			return effectOp{effVibratoWaveform, y}
		case extTremoloWaveform:
			return effectOp{effTremoloWaveform, y}
		case extCoarsePan:
			return effectOp{effSetPan, y | y<<4}
		case extPatternLoop:
			return effectOp{effPatternLoop, y}
		case extNoteCut:
			return effectOp{effNoteCut, y}
		case extNoteDelay:
			return effectOp{effNoteDelay, y}
		case extPatternDelay:
			return effectOp{effPatternDelay, y}
		}
	}
	return effectOp{}
}

// Volume column dialect: 0x00..0x40 is a direct volume set, higher values
// are shorthands tagged by the high nibble. Everything decodes into the
// same tagged operations the effect columns use, so the interpreter has one
// code path regardless of where an effect came from.
const (
	volColSlideDown = 0x6
	volColSlideUp   = 0x7
	volColFineDown  = 0x8
	volColFineUp    = 0x9
	volColVibSpeed  = 0xA
	volColVibrato   = 0xB
	volColSetPan    = 0xC
	volColTonePorta = 0xF
)

// parseVolumeColumn splits a raw volume column byte into an optional direct
// volume (-1 if absent) and an optional shorthand operation.
func parseVolumeColumn(v int) (direct int, op effectOp) {
	direct = -1
	if v == noCellVolume {
		return
	}
	if v <= 0x40 {
		return v, effectOp{}
	}
	x := byte(v & 0xF)
	switch byte(v >> 4) {
	case volColSlideDown:
		op = effectOp{effVolumeSlide, x}
	case volColSlideUp:
		op = effectOp{effVolumeSlide, x << 4}
	case volColFineDown:
		op = effectOp{effVolumeSlide, 0xF0 | x}
	case volColFineUp:
		op = effectOp{effVolumeSlide, x<<4 | 0x0F}
	case volColVibSpeed:
		op = effectOp{effVibrato, x << 4}
	case volColVibrato:
		op = effectOp{effVibrato, x}
	case volColSetPan:
		op = effectOp{effSetPan, x | x<<4}
	case volColTonePorta:
		op = effectOp{effTonePorta, x << 4}
	}
	return
}

// Oscillator waveforms for vibrato and tremolo. The low two bits select the
// wave, bit 2 keeps the phase running across note triggers.
type waveSelect int

const (
	waveSine waveSelect = iota
	waveRampDown
	waveSquare
	waveRandom

	waveNoRetrig waveSelect = 4
)

func (w waveSelect) shape() waveSelect { return w & 3 }
func (w waveSelect) retrigs() bool     { return w&waveNoRetrig == 0 }

// First half of the oscillator sine period, amplitude 0..255. The second
// half is the same magnitude, sign flipped:
//
//	IF phase >= 32 THEN -sineTable[phase & 31] ELSE sineTable[phase & 31]
var sineTable = [32]int{
	0, 24, 49, 74, 97, 120, 141, 161, 180, 197, 212, 224, 235, 244, 250, 253,
	255, 253, 250, 244, 235, 224, 212, 197, 180, 161, 141, 120, 97, 74, 49, 24,
}

// oscSample samples a waveform at a 0..63 phase, returning -255..255.
// The random wave steps a channel-local generator so playback stays
// deterministic run to run.
func oscSample(w waveSelect, phase int, rng *uint32) int {
	phase &= 63
	switch w.shape() {
	case waveSine:
		v := sineTable[phase&31]
		if phase >= 32 {
			v = -v
		}
		return v
	case waveRampDown:
		return (31 - phase) * 8
	case waveSquare:
		if phase < 32 {
			return 255
		}
		return -255
	default: // random
		*rng = *rng*1664525 + 1013904223
		return int((*rng>>16)&0x1FF) - 255
	}
}

// retrigVolume applies the per-retrigger volume change selected by the
// high nibble of the retrigger parameter.
func retrigVolume(mode, vol int) int {
	switch mode {
	case 1:
		vol--
	case 2:
		vol -= 2
	case 3:
		vol -= 4
	case 4:
		vol -= 8
	case 5:
		vol -= 16
	case 6:
		vol = (vol * 2) / 3
	case 7:
		vol = vol / 2
	case 9:
		vol++
	case 10:
		vol += 2
	case 11:
		vol += 4
	case 12:
		vol += 8
	case 13:
		vol += 16
	case 14:
		vol = (vol * 3) / 2
	case 15:
		vol = vol * 2
	}
	if vol < 0 {
		vol = 0
	}
	if vol > maxVolume {
		vol = maxVolume
	}
	return vol
}
