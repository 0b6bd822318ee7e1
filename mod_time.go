package drawpipe

import (
	"time"
)

// Time is the frame clock, advanced at the start of every frame.
type Time struct {
	Time  time.Time
	Dt    time.Duration
	Frame uint64

	now   func() time.Time
	maxDt time.Duration
}

// Seconds returns Dt in seconds.
func (t *Time) Seconds() float32 { return float32(t.Dt.Seconds()) }

func (t *Time) tick() {
	now := t.now()
	t.Dt = now.Sub(t.Time)
	if t.maxDt > 0 && t.Dt > t.maxDt {
		t.Dt = t.maxDt
	}
	t.Time = now
	t.Frame++
}

// TimeModule publishes a Time resource. MaxDt clamps the delta after long
// stalls such as a window drag; zero leaves it unclamped.
type TimeModule struct {
	MaxDt time.Duration
	Clock func() time.Time
}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	now := mod.Clock
	if now == nil {
		now = time.Now
	}
	cmd.AddResources(&Time{Time: now(), now: now, maxDt: mod.MaxDt})
	cmd.UseSystem(System(timeSystem).InStage(Prelude))
}

func timeSystem(t *Time) {
	t.tick()
}
