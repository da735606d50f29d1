package transport

import (
	"sync/atomic"
)

// DefaultFastOpenThreshold is the initial TCP_FASTOPEN queue length: the
// number of pending fast open requests a listener accepts in SYN-RCVD.
const DefaultFastOpenThreshold = 256

// Threshold is a concurrency-safe TCP_FASTOPEN queue length. Use
// [NewThreshold]; the zero value holds 0.
type Threshold struct {
	v atomic.Int64
}

// NewThreshold returns a threshold holding value.
func NewThreshold(value int) (*Threshold, error) {
	t := new(Threshold)
	if err := t.Set(value); err != nil {
		return nil, err
	}
	return t, nil
}

var defaultThreshold = func() *Threshold {
	t := new(Threshold)
	t.v.Store(DefaultFastOpenThreshold)
	return t
}()

// DefaultThreshold returns the process-wide threshold, used by every
// [Transport] not given one via [WithThreshold].
func DefaultThreshold() *Threshold {
	return defaultThreshold
}

// Get returns the current value.
func (t *Threshold) Get() int {
	return int(t.v.Load())
}

// Set replaces the current value. Negative values are rejected with a
// [*ValidationError]; any other value is passed to the kernel unchecked.
// Listeners already created are unaffected.
func (t *Threshold) Set(value int) error {
	if value < 0 {
		return &ValidationError{
			Field:  "fast open threshold",
			Value:  value,
			Reason: "must be >= 0",
		}
	}
	t.v.Store(int64(value))
	return nil
}
