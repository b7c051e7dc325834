package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/SentinelX-Auth/SentinelX/internal/circuitbreaker"
)

// call runs a store-backed operation behind the store's circuit. Errors in
// expected are domain answers and count as a healthy store; anything else
// is wrapped in ErrStorage and counts toward tripping the circuit.
func (e *Engine) call(store string, fn func() error, expected ...error) error {
	if !e.breaker.Allow(store) {
		return fmt.Errorf("%w: %s circuit open", ErrStorage, store)
	}

	err := fn()
	if err == nil || isAny(err, expected) {
		e.breaker.RecordSuccess(store)
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.breaker.RecordFailure(store)
		return err
	case errors.Is(err, context.Canceled):
		// The caller left; only a pending trial request needs settling.
		e.breaker.Abandon(store)
		return err
	}

	e.breaker.RecordFailure(store)
	return fmt.Errorf("%w: %s: %w", ErrStorage, store, err)
}

// TrippedStores lists backing stores whose circuit is not closed.
func (e *Engine) TrippedStores() []string {
	return e.breaker.Tripped()
}

// StoreState reports the circuit state of a backing store.
func (e *Engine) StoreState(store string) circuitbreaker.State {
	return e.breaker.State(store)
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func isStoreFailure(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
