package playback

import "math"

// Frequency resolution. Two strategies, selected per format: the Amiga
// logarithmic period table (three octaves per finetune row) and the linear
// formula freq = base * 2^(semitones/12). Everything in this file is a pure
// function of its arguments so reference (note, finetune) -> Hz pairs can be
// checked directly against the published hardware tables.

const (
	// Amiga PAL Paula clock divided by two; sample rate = this / period.
	amigaChipClock = 3546894.6

	middleCHz = 261.6256 // linear-frequency default reference for C-4

	noteC3 = 48 // first entry of the period table
	noteC4 = 60
	noteB5 = noteC3 + periodTableLen - 1

	periodTableLen = 36
	// The glissando round-down search may walk past the nominal table end
	// when the finetune is at its most negative. Guard entries keep those
	// reads in bounds.
	periodTableGuard = 16
)

// ProTracker period table, one row per finetune value. Rows 0-7 are
// finetunes 0..+7, rows 8-15 are -8..-1, matching the nibble encoding the
// hardware formats use. Each row covers C-3..B-5.
var periodTable = [16][periodTableLen]int{
	{856, 808, 762, 720, 678, 640, 604, 570, 538, 508, 480, 453,
		428, 404, 381, 360, 339, 320, 302, 285, 269, 254, 240, 226,
		214, 202, 190, 180, 170, 160, 151, 143, 135, 127, 120, 113},
	{850, 802, 757, 715, 674, 637, 601, 567, 535, 505, 477, 450,
		425, 401, 379, 357, 337, 318, 300, 284, 268, 253, 239, 225,
		213, 201, 189, 179, 169, 159, 150, 142, 134, 126, 119, 113},
	{844, 796, 752, 709, 670, 632, 597, 563, 532, 502, 474, 447,
		422, 398, 376, 355, 335, 316, 298, 282, 266, 251, 237, 224,
		211, 199, 188, 177, 167, 158, 149, 141, 133, 125, 118, 112},
	{838, 791, 746, 704, 665, 628, 592, 559, 528, 498, 470, 444,
		419, 395, 373, 352, 332, 314, 296, 280, 264, 249, 235, 222,
		209, 198, 187, 176, 166, 157, 148, 140, 132, 125, 118, 111},
	{832, 785, 741, 699, 660, 623, 588, 555, 524, 495, 467, 441,
		416, 392, 370, 350, 330, 312, 294, 278, 262, 247, 233, 220,
		208, 196, 185, 175, 165, 156, 147, 139, 131, 124, 117, 110},
	{826, 779, 736, 694, 655, 619, 584, 551, 520, 491, 463, 437,
		413, 390, 368, 347, 328, 309, 292, 276, 260, 245, 232, 219,
		206, 195, 184, 174, 164, 155, 146, 138, 130, 123, 116, 109},
	{820, 774, 730, 689, 651, 614, 580, 547, 516, 487, 460, 434,
		410, 387, 365, 345, 325, 307, 290, 274, 258, 244, 230, 217,
		205, 193, 183, 172, 163, 154, 145, 137, 129, 122, 115, 109},
	{814, 768, 725, 684, 646, 610, 575, 543, 513, 484, 457, 431,
		407, 384, 363, 342, 323, 305, 288, 272, 256, 242, 228, 216,
		204, 192, 181, 171, 161, 152, 144, 136, 128, 121, 114, 108},
	{907, 856, 808, 762, 720, 678, 640, 604, 570, 538, 508, 480,
		453, 428, 404, 381, 360, 339, 320, 302, 285, 269, 254, 240,
		226, 214, 202, 190, 180, 170, 160, 151, 143, 135, 127, 120},
	{900, 850, 802, 757, 715, 675, 636, 601, 567, 535, 505, 477,
		450, 425, 401, 379, 357, 337, 318, 300, 284, 268, 253, 238,
		225, 212, 200, 189, 179, 169, 159, 150, 142, 134, 126, 119},
	{894, 844, 796, 752, 709, 670, 632, 597, 563, 532, 502, 474,
		447, 422, 398, 376, 355, 335, 316, 298, 282, 266, 251, 237,
		223, 211, 199, 188, 177, 167, 158, 149, 141, 133, 125, 118},
	{887, 838, 791, 746, 704, 665, 628, 592, 559, 528, 498, 470,
		444, 419, 395, 373, 352, 332, 314, 296, 280, 264, 249, 235,
		222, 209, 198, 187, 176, 166, 157, 148, 140, 132, 125, 118},
	{881, 832, 785, 741, 699, 660, 623, 588, 555, 524, 494, 467,
		441, 416, 392, 370, 350, 330, 312, 294, 278, 262, 247, 233,
		220, 208, 196, 185, 175, 165, 156, 147, 139, 131, 123, 117},
	{875, 826, 779, 736, 694, 655, 619, 584, 551, 520, 491, 463,
		437, 413, 390, 368, 347, 328, 309, 292, 276, 260, 245, 232,
		219, 206, 195, 184, 174, 164, 155, 146, 138, 130, 123, 116},
	{868, 820, 774, 730, 689, 651, 614, 580, 547, 516, 487, 460,
		434, 410, 387, 365, 345, 325, 307, 290, 274, 258, 244, 230,
		217, 205, 193, 183, 172, 163, 154, 145, 137, 129, 121, 115},
	{862, 814, 768, 725, 684, 646, 610, 575, 543, 513, 484, 457,
		431, 407, 384, 363, 342, 323, 305, 288, 272, 256, 242, 228,
		214, 204, 192, 181, 171, 161, 152, 144, 136, 128, 121, 114},
}

// guardedPeriods is periodTable with guard entries appended: the last valid
// period repeated so searches that intentionally overrun never fault.
var guardedPeriods [16][]int

func init() {
	for ft := range periodTable {
		row := make([]int, periodTableLen+periodTableGuard)
		copy(row, periodTable[ft][:])
		for i := periodTableLen; i < len(row); i++ {
			row[i] = periodTable[ft][periodTableLen-1]
		}
		guardedPeriods[ft] = row
	}
}

// finetuneRow maps a signed finetune (-8..7) onto its table row.
func finetuneRow(finetune int) int {
	if finetune < -8 {
		finetune = -8
	}
	if finetune > 7 {
		finetune = 7
	}
	return finetune & 0xF
}

// periodForNote looks a note up in the period table. Notes outside the
// table's three octaves clamp to the nearest edge.
func periodForNote(n Note, finetune int) int {
	idx := int(n) - noteC3
	if idx < 0 {
		idx = 0
	}
	if idx >= periodTableLen {
		idx = periodTableLen - 1
	}
	return periodTable[finetuneRow(finetune)][idx]
}

// nearestLowerPeriod rounds a period down (pitch-wise: up in period space)
// to the nearest discrete table entry, the search tone portamento uses in
// glissando mode. The walk may run past the nominal table end; the guard
// entries make that safe.
func nearestLowerPeriod(period, finetune int) int {
	row := guardedPeriods[finetuneRow(finetune)]
	i := 0
	for period < row[i] && i < len(row)-1 {
		i++
	}
	return row[i]
}

// amigaFrequency converts an Amiga period into a playback rate in Hz.
func amigaFrequency(period int) float64 {
	if period <= 0 {
		return 0
	}
	return amigaChipClock / float64(period)
}

// linearFrequency applies the linear-semitone formula.
func linearFrequency(base, semitones float64) float64 {
	return base * math.Pow(2, semitones/12)
}

// ResolveFrequency converts a symbolic note plus tuning offset into a
// playback frequency under the given quirk set. For the period formats the
// finetune selects a table row; for linear formats it detunes in eighths of
// a semitone around the instrument's C-4 reference frequency.
func ResolveFrequency(n Note, finetune int, base float64, q *Quirks) float64 {
	if q.LinearFrequency {
		if base <= 0 {
			base = middleCHz
		}
		return linearFrequency(base, float64(int(n)-noteC4)+float64(finetune)/8)
	}
	return amigaFrequency(periodForNote(n, finetune))
}
