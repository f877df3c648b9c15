package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Garsondee/unit-motion/internal/audio"
	"github.com/Garsondee/unit-motion/internal/config"
	"github.com/Garsondee/unit-motion/internal/game"
	"github.com/Garsondee/unit-motion/internal/logging"
	"github.com/Garsondee/unit-motion/internal/scenario"
	"github.com/gopxl/beep/speaker"
	"github.com/hajimehoshi/ebiten/v2"
)

// speakerLock guards the player's mixer while the speaker streams from it.
type speakerLock struct{}

func (speakerLock) Lock()   { speaker.Lock() }
func (speakerLock) Unlock() { speaker.Unlock() }

func main() {
	var scenarioName string
	var seed int64
	var configDir string
	var mute bool

	flag.StringVar(&scenarioName, "scenario", "convoy", "scenario to load ("+strings.Join(scenario.Names(), ", ")+")")
	flag.Int64Var(&seed, "seed", 42, "scenario seed")
	flag.StringVar(&configDir, "config", ".", "directory holding "+config.FileName+" (empty to skip)")
	flag.BoolVar(&mute, "mute", false, "disable audio")
	flag.Parse()

	sc, ok := scenario.Get(scenarioName)
	if !ok {
		fmt.Printf("error: unsupported scenario %q (supported: %s)\n", scenarioName, strings.Join(scenario.Names(), ", "))
		os.Exit(2)
	}
	if err := config.Load(configDir); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	logFile, closeLog, err := logging.OpenFile(config.GetString("logFile"))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	log := logging.Setup(os.Stderr, logFile, config.GetString("logLevel"))
	slog.SetDefault(log)

	var cues game.CuePlayer = game.NopCues{}
	if !mute {
		if err := speaker.Init(audio.SampleRate, audio.SampleRate.N(100*time.Millisecond)); err != nil {
			log.Warn("audio disabled", "error", err)
		} else {
			player := audio.NewPlayer(log)
			player.SetOutputLock(speakerLock{})
			speaker.Play(player.Streamer())
			defer speaker.Close()
			defer player.Close()
			cues = player
		}
	}

	v, err := newViewer(sc, seed, config.Tuning(), cues, log)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	w, h := v.Layout(0, 0)
	ebiten.SetWindowTitle("Unit Motion - " + sc.Name)
	ebiten.SetWindowSize(w, h)
	ebiten.SetTPS(game.TickRate)
	if err := ebiten.RunGame(v); err != nil {
		log.Error("viewer exited", "error", err)
		os.Exit(1)
	}
}
