package screen

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/fogleman/gg"
)

// Size is the side of the square 16-bit framebuffer on the robot.
const Size = 128

// Status is what the control loop shows on the screen.
type Status struct {
	Mode     string
	State    string
	Position float64
	Turn     int
	OnLine   bool
	OnFloor  bool
	Polarity bool

	// Normalized readings. Channel 0 is on the robot's right and is drawn
	// on the right.
	Readings [8]uint8

	Notice string
}

var (
	Lock sync.Mutex

	current Status
)

func Update(s Status) {
	Lock.Lock()
	current = s
	Lock.Unlock()
}

func Current() Status {
	Lock.Lock()
	defer Lock.Unlock()
	return current
}

// Render draws the status: the sensor bar graph, a marker at the line
// position and a few lines of text.
func Render(s Status) image.Image {
	const S = Size
	dc := gg.NewContext(S, S)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(s.Mode, 2, 12)
	dc.DrawString(s.State, 2, 26)

	// One bar per channel, full height is 255.
	const barW = S / 8
	for i, v := range s.Readings {
		h := float64(v) * 60 / 255
		slot := len(s.Readings) - 1 - i
		dc.DrawRectangle(float64(slot*barW)+2, 100-h, barW-4, h)
	}
	dc.Fill()

	// A positive position is a line to the left.
	x := S/2 - s.Position*barW/2
	if x < 0 {
		x = 0
	} else if x > S {
		x = S
	}
	if s.OnLine {
		dc.SetRGB(0, 1, 0.2)
	} else {
		dc.SetRGB(0.5, 0.5, 0.5)
	}
	dc.DrawRegularPolygon(3, x, 108, 6, 0)
	dc.Fill()

	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(fmt.Sprintf("pos %+.2f turn %+d", s.Position, s.Turn), 2, 40)

	if !s.OnFloor || s.Notice != "" {
		dc.Push()
		dc.Translate(S-16, 16)
		DrawWarning(dc)
		dc.Pop()
		notice := s.Notice
		if notice == "" {
			notice = "LIFTED"
		}
		dc.SetRGB(1, 0.2, 0)
		dc.DrawString(notice, 2, 126)
	}
	return dc.Image()
}

// SavePNG writes the rendering of s to path.
func SavePNG(path string, s Status) error {
	return gg.SavePNG(path, Render(s))
}

// LoopUpdatingScreen redraws the current status on the framebuffer until ctx
// is done, then blanks it.
func LoopUpdatingScreen(ctx context.Context, framebuffer string) {
	f, err := os.OpenFile(framebuffer, os.O_RDWR, 0666)
	if err != nil {
		fmt.Println("Failed to open screen, ignoring")
		return
	}
	defer f.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var buf [Size * Size * 2]byte
			_, _ = f.Seek(0, 0)
			_, _ = f.Write(buf[:])
			return
		case <-ticker.C:
		}

		buf := toRGB565(Render(Current()))
		_, err = f.Seek(0, 0)
		if err != nil {
			fmt.Println("Screen failure: ", err)
			return
		}
		for i := 0; i < Size; i++ {
			_, err = f.Write(buf[i*Size*2 : (i+1)*Size*2])
			if err != nil {
				fmt.Println("Screen failure: ", err)
				return
			}
			time.Sleep(10 * time.Microsecond)
		}
	}
}

// toRGB565 packs img for the panel, which is mounted rotated a quarter turn.
func toRGB565(img image.Image) []byte {
	buf := make([]byte, Size*Size*2)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(Size-1-y)*2+x*Size*2+1] = (rb << 3) | (gb >> 3)
			buf[(Size-1-y)*2+x*Size*2] = bb | (gb << 5)
		}
	}
	return buf
}

func DrawWarning(dc *gg.Context) {
	dc.SetRGB(1, 0.2, 0)
	dc.DrawRegularPolygon(3, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}
