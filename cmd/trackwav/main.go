// Renders a tracker song offline to a WAV file (16-bit, stereo).

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	playback "github.com/spotUP/DEViLBOX-sub006"
	"github.com/spotUP/DEViLBOX-sub006/internal/chip"
	"github.com/spotUP/DEViLBOX-sub006/wav"
)

var (
	flagWavOut = flag.String("wav", "", "output WAVE file")
	flagHz     = flag.Int("hz", 44100, "output hz")
	flagLenOrd = flag.Int("maxorders", -1, "maximum number of orders to play")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("trackwav: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("Missing song filename")
	}
	if *flagWavOut == "" {
		log.Fatal("No -wav option provided")
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

	synth := chip.New(*flagHz)
	player, err := playback.NewPlayer(song, uint(*flagHz), synth)
	if err != nil {
		log.Fatal(err)
	}
	player.PlayOrderLimit = *flagLenOrd

	wavF, err := os.Create(*flagWavOut)
	if err != nil {
		log.Fatal(err)
	}
	defer wavF.Close()

	wavW, err := wav.NewWriter(wavF, *flagHz)
	if err != nil {
		log.Fatal(err)
	}
	defer wavW.Finish()

	audioOut := make([]int16, 2048)

	player.Start()
	lastOrder := -1
	for player.IsPlaying() {
		generated := player.GenerateAudio(audioOut)
		if generated == 0 {
			break
		}
		if err = wavW.WriteFrame(audioOut[:generated*2]); err != nil {
			log.Fatal(err)
		}

		if pos := player.Position(); pos.Order != lastOrder {
			fmt.Printf("%d/%d\n", pos.Order+1, len(player.Song.Orders))
			lastOrder = pos.Order
		}
	}
	player.Stop()
}
