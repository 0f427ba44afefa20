package builder

import "time"

// Event reports progress through a build.
type Event struct {
	Stage Stage
	// Done is false when the stage starts and true when it finishes.
	Done bool
	// Skipped is set when the stage had nothing to do.
	Skipped bool
	Message string
	Elapsed time.Duration
	Err     error
}

// Observer receives build events. It is called synchronously from the
// goroutine running Build.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
