package sound

import (
	"fmt"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Event sounds, relative to the configured sounds directory.
const (
	Start             = "linebotstart.wav"
	Calibrated        = "calibrated.wav"
	CalibrationFailed = "calfailed.wav"
	LineLost          = "linelost.wav"
	OffFloor          = "offfloor.wav"
)

// InitSound starts the player goroutine. Each path sent on the returned
// channel interrupts whatever is playing. Closing the channel stops the
// player.
func InitSound() chan string {
	soundsToPlay := make(chan string)
	go func() {
		defer func() {
			recover()
			drain(soundsToPlay)
		}()
		sampleRate := beep.SampleRate(44100)
		err := speaker.Init(sampleRate, sampleRate.N(time.Second/5))
		if err != nil {
			fmt.Println("Failed to open speaker", err)
			drain(soundsToPlay)
			return
		}
		var ctrl *beep.Ctrl
		var s beep.StreamSeekCloser
		for soundToPlay := range soundsToPlay {
			if ctrl != nil {
				speaker.Lock()
				ctrl.Paused = true
				ctrl.Streamer = nil
				speaker.Unlock()
				ctrl = nil
			}
			if s != nil {
				s.Close()
				s = nil
			}

			f, err := os.Open(soundToPlay)
			if err != nil {
				fmt.Println("Failed to open sound", err)
				continue
			}
			s, _, err = wav.Decode(f)
			if err != nil {
				fmt.Println("Failed to decode sound", err)
				f.Close()
				s = nil
				continue
			}
			ctrl = &beep.Ctrl{Streamer: s}
			speaker.Play(ctrl)
		}
	}()
	return soundsToPlay
}

func drain(soundsToPlay chan string) {
	for s := range soundsToPlay {
		fmt.Println("Unable to play", s)
	}
}
