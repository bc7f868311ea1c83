package client

import (
	"sync"

	"github.com/luma/relay/protocol"
)

// future is settled at most once. Later settlements are ignored.
type future struct {
	once sync.Once
	done chan struct{}
	resp *protocol.Response
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// settle stores resp and wakes the waiter. It returns false if the future was
// already settled.
func (f *future) settle(resp *protocol.Response) bool {
	settled := false

	f.once.Do(func() {
		f.resp = resp
		settled = true
		close(f.done)
	})

	return settled
}

func (f *future) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled response, or false if there is none yet.
func (f *future) Result() (*protocol.Response, bool) {
	select {
	case <-f.done:
		return f.resp, true

	default:
		return nil, false
	}
}
