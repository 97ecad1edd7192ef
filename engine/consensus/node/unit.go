package node

import "sync"

// unit brackets the engine's goroutine lifecycle, in the style of the
// teacher's engine.Unit (Launch/Ready/Done/Quit), which every
// engine/simulation/coldstuff.Engine and friends build on. It is
// unexported: hosts only ever see Engine.Ready/Done/Stop.
type unit struct {
	once    sync.Once
	readyCh chan struct{}
	doneCh  chan struct{}
	quitCh  chan struct{}
}

func newUnit() *unit {
	return &unit{
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Launch runs f in its own goroutine and closes ready right away; done is
// closed once f returns (f is expected to block until the engine stops).
func (u *unit) Launch(f func()) {
	go func() {
		f()
		close(u.doneCh)
	}()
	close(u.readyCh)
}

func (u *unit) Ready() <-chan struct{} { return u.readyCh }
func (u *unit) Done() <-chan struct{}  { return u.doneCh }
func (u *unit) Quit() <-chan struct{}  { return u.quitCh }

// Stop closes the quit channel exactly once.
func (u *unit) Stop() {
	u.once.Do(func() { close(u.quitCh) })
}
