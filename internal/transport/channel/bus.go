// Package channel is the in-memory transport between the scheduler's tick
// and the dispatcher workers.
package channel

import (
	"context"

	"github.com/Tannybot/remindd/internal/domain"
)

type FireBus struct {
	ch chan domain.FireEvent
}

func NewFireBus(buffer int) *FireBus {
	return &FireBus{
		ch: make(chan domain.FireEvent, buffer),
	}
}

func (b *FireBus) Emit(ctx context.Context, event domain.FireEvent) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *FireBus) Channel() <-chan domain.FireEvent {
	return b.ch
}
