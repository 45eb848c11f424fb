package playback

// VoiceHandle is the opaque token a synthesis backend returns from Trigger.
// The engine never inspects it; it only hands it back on later calls.
type VoiceHandle int

// NoVoice is returned by backends that could not allocate a voice. The
// engine treats it as a no-op handle.
const NoVoice VoiceHandle = -1

// Param identifies a per-voice synthesis parameter the engine drives every
// tick.
type Param int

const (
	ParamFrequency Param = iota // playback frequency in Hz
	ParamVolume                 // 0..64
	ParamPan                    // 0=left .. 64=center .. 127=right
	ParamDuty                   // pulse duty cycle, backend-defined range
	ParamWave                   // waveform select
	ParamOpLevel                // operator level for FM-style backends
	ParamSampleOffset           // initial sample position for PCM backends
)

// Synth is the uniform contract the engine drives a synthesis backend
// through. It is a strictly one-way message sink: the engine never reads
// state back, so a backend needs no locking against the scheduler beyond
// its own internal requirements.
//
// All calls happen on the scheduler goroutine, which in a real host is the
// audio thread; implementations must not block.
type Synth interface {
	// Trigger starts a note and returns a handle for the new voice.
	Trigger(channel int, freq float64, velocity int) VoiceHandle
	// Release enters the voice's release phase but lets it ring out.
	Release(v VoiceHandle)
	// SetParam updates one parameter of a sounding voice.
	SetParam(v VoiceHandle, p Param, value float64)
	// Stop silences and frees the voice immediately.
	Stop(v VoiceHandle)
}

// Renderer is implemented by backends that also produce audio. The player
// interleaves control ticks with render calls so parameter changes land on
// their exact sample positions, the same way the reference mixer works.
type Renderer interface {
	// Render mixes stereo samples (LRLR...) into out.
	Render(out []int16)
}
