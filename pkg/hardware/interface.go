package hardware

import (
	"context"
	"sync"

	"github.com/tigerbot-team/linebot/pkg/motors"
)

// MotorDriver is a motors.Sink that needs a background loop to talk to the
// bus. Loop marks initDone once its first initialisation attempt is over.
type MotorDriver interface {
	motors.Sink
	Loop(ctx context.Context, initDone *sync.WaitGroup)
}
