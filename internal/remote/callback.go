package remote

import "sync"

// Callback receives the outcome of an asynchronous call.
type Callback[R any] interface {
	Result(result R, err error)
}

type funcCallback[R any] struct {
	fn func(result R, err error)
}

// NewCallback adapts fn to Callback.
func NewCallback[R any](fn func(result R, err error)) Callback[R] {
	return &funcCallback[R]{fn: fn}
}

func (c *funcCallback[R]) Result(result R, err error) {
	c.fn(result, err)
}

// CallbackResult is one delivery of a blocking callback.
type CallbackResult[R any] struct {
	Result R
	Err    error
}

// NewBlockingCallback returns a callback and the channel its single
// result is delivered on. The channel is buffered so the caller may read
// it late without stalling the sender.
func NewBlockingCallback[R any]() (Callback[R], <-chan CallbackResult[R]) {
	c := make(chan CallbackResult[R], 1)
	return NewCallback(func(result R, err error) {
		c <- CallbackResult[R]{Result: result, Err: err}
	}), c
}

// once wraps cb so only the first Result call reaches it.
type once[R any] struct {
	once sync.Once
	cb   Callback[R]
}

func (o *once[R]) Result(result R, err error) {
	o.once.Do(func() { o.cb.Result(result, err) })
}
