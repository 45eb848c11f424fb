package main

import (
	"flag"
	"log"
	"os"

	playback "github.com/spotUP/DEViLBOX-sub006"
	"github.com/spotUP/DEViLBOX-sub006/cmd/internal/config"
	"github.com/spotUP/DEViLBOX-sub006/internal/chip"
)

var (
	flagHz       = flag.Int("hz", 44100, "output hz")
	flagBoost    = flag.Int("boost", 1, "volume boost, an integer between 1 and 4")
	flagStartOrd = flag.Int("start", 0, "starting order in the song, clamped to song max")
	flagLenOrd   = flag.Int("maxorders", -1, "maximum number of orders to play, useful for songs that loop forever")
	flagReverb   = flag.String("reverb", "light", "choose from light, medium, hall or none")
	flagMute     = flag.Uint("mute", 0, "bitmask of muted channels, channel 1 in LSB, set bit to mute channel")
	flagNoUI     = flag.Bool("noui", false, "turn off all UI, mostly useful in development")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("trackplay: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
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

	synth := chip.New(*flagHz)
	synth.SetVolumeBoost(*flagBoost)

	player, err := playback.NewPlayer(song, uint(*flagHz), synth)
	if err != nil {
		log.Fatal(err)
	}
	player.Mute = *flagMute
	if *flagStartOrd > 0 {
		player.SeekTo(*flagStartOrd, 0)
	}
	player.PlayOrderLimit = *flagLenOrd

	rvb, err := config.ReverbFromFlag(*flagReverb, *flagHz)
	if err != nil {
		log.Fatal(err)
	}

	play(player, rvb)
}
