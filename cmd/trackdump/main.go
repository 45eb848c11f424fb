// Dumps the contents of a tracker song: header, instruments, pattern data
// and optionally the control event stream the player would emit, which is
// handy when bisecting playback differences between two engine versions.

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"
	flag "github.com/spf13/pflag"
	playback "github.com/spotUP/DEViLBOX-sub006"
)

var (
	flagInstruments = flag.Bool("instruments", false, "dump instrument definitions")
	flagPattern     = flag.Int("pattern", -1, "dump one pattern's rows")
	flagEvents      = flag.Int("events", 0, "play N orders and dump the control events")
)

// eventSink implements playback.Synth by printing every control event.
type eventSink struct {
	next playback.VoiceHandle
}

func (e *eventSink) Trigger(channel int, freq float64, velocity int) playback.VoiceHandle {
	e.next++
	fmt.Printf("  trigger ch=%d voice=%d freq=%.2f vel=%d\n", channel, e.next, freq, velocity)
	return e.next
}

func (e *eventSink) Release(v playback.VoiceHandle) {
	fmt.Printf("  release voice=%d\n", v)
}

func (e *eventSink) SetParam(v playback.VoiceHandle, p playback.Param, value float64) {
	fmt.Printf("  setparam voice=%d param=%d value=%.3f\n", v, p, value)
}

func (e *eventSink) Stop(v playback.VoiceHandle) {
	fmt.Printf("  stop voice=%d\n", v)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("trackdump: ")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("Missing song filename")
	}

	songF, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	song, err := playback.ReadSongYAML(songF)
	songF.Close()
	if err != nil {
		log.Fatal(err)
	}

	playback.SetDumpWriter(os.Stdout)

	fmt.Printf("%q format=%s channels=%d orders=%d patterns=%d speed=%d bpm=%d\n",
		song.Title, song.Format, song.Channels, len(song.Orders), song.NumPatterns(),
		song.Speed, song.Tempo)

	if *flagInstruments {
		spew.Dump(song.Instruments)
	}

	if *flagPattern >= 0 && *flagPattern < song.NumPatterns() {
		for r := 0; r < song.PatternRows(*flagPattern); r++ {
			fmt.Printf("%02X:", r)
			for c := 0; c < song.Channels; c++ {
				cell := song.CellAt(*flagPattern, r, c)
				nd := playback.ChannelNoteData{
					Note:       cell.Note.String(),
					Instrument: cell.Instrument,
					Volume:     cell.Volume,
					Effect:     cell.Effect,
					Param:      cell.Param,
				}
				fmt.Printf(" %s |", nd.String())
			}
			fmt.Println()
		}
	}

	if *flagEvents > 0 {
		sink := &eventSink{}
		player, err := playback.NewPlayer(song, 44100, sink)
		if err != nil {
			log.Fatal(err)
		}
		player.PlayOrderLimit = *flagEvents
		player.Start()
		out := make([]int16, 2048)
		for player.IsPlaying() {
			if player.GenerateAudio(out) == 0 {
				break
			}
		}
	}
}
