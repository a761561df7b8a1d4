package engine

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("settlement already in progress")

// guard serializes settlements. The operator account is shared working
// capital; two concurrent settlements would corrupt each other's balance
// accounting.
type guard struct {
	held atomic.Bool
}

func (g *guard) acquire() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (g *guard) release() {
	g.held.Store(false)
}
