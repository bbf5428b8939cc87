package homing

import "motioncore/reactor"

// FakeEndstop is an in-memory Endstop double for tests: it trips
// TriggerAfter reactor-seconds after HomeStart is called, or never if
// NeverTrigger is set (to exercise ErrEndstopNotTriggered).
type FakeEndstop struct {
	r            *reactor.Reactor
	TriggerAfter float64
	NeverTrigger bool
	triggered    bool
}

func NewFakeEndstop(r *reactor.Reactor, triggerAfter float64) *FakeEndstop {
	return &FakeEndstop{r: r, TriggerAfter: triggerAfter}
}

func (f *FakeEndstop) QueryTriggered() (bool, error) { return f.triggered, nil }

func (f *FakeEndstop) HomeStart(printTime, sampleTime float64, sampleCount int) (*reactor.Completion, error) {
	c := reactor.NewCompletion()
	if f.NeverTrigger {
		return c, nil
	}
	f.r.RegisterTimer(func(eventTime float64) float64 {
		f.triggered = true
		c.Complete(eventTime)
		return reactor.NEVER
	}, f.r.Monotonic()+f.TriggerAfter)
	return c, nil
}
