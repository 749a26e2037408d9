// ABOUTME: Single-assignment result handle passed to tool call observers
// ABOUTME: Observers get the future before the call finishes and never block it

package toolserver

import "context"

// Future is the eventual result of one tool invocation.
type Future struct {
	done   chan struct{}
	result string
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve must be called exactly once.
func (f *Future) resolve(result string, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
