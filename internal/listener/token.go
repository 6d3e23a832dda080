package listener

import "sync/atomic"

// State is the lifecycle state of a listener loop.
type State int32

const (
	Stopped State = iota
	Starting
	Listening
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Token carries the listener state between the goroutine that owns the loop
// and the one that stops it. The owner moves it Stopped→Starting and later
// to Stopping; the loop moves it Starting→Listening once bound and resets it
// to Stopped when it exits.
type Token struct {
	state atomic.Int32
}

// State returns the current state.
func (t *Token) State() State {
	return State(t.state.Load())
}

// Begin moves Stopped→Starting. It reports false if the token was not stopped.
func (t *Token) Begin() bool {
	return t.state.CompareAndSwap(int32(Stopped), int32(Starting))
}

// RequestStop moves Starting or Listening to Stopping. It reports false if
// the loop was neither.
func (t *Token) RequestStop() bool {
	for {
		s := t.State()
		if s != Starting && s != Listening {
			return false
		}
		if t.state.CompareAndSwap(int32(s), int32(Stopping)) {
			return true
		}
	}
}

// listen moves Starting→Listening. It fails if a stop arrived during bind.
func (t *Token) listen() bool {
	return t.state.CompareAndSwap(int32(Starting), int32(Listening))
}

func (t *Token) stopRequested() bool {
	return t.State() == Stopping
}

func (t *Token) acknowledge() {
	t.state.Store(int32(Stopped))
}
