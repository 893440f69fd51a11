package credentials

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps credentials for the lifetime of the process.
type MemoryBackend struct {
	slots map[Slot]string
	lock  sync.RWMutex
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		slots: make(map[Slot]string),
	}
}

func (mb *MemoryBackend) Get(_ context.Context, slot Slot) (string, error) {
	mb.lock.RLock()
	defer mb.lock.RUnlock()
	value, ok := mb.slots[slot]
	if !ok {
		return "", apperrors.ErrSlotNotFound
	}
	return value, nil
}

func (mb *MemoryBackend) Set(_ context.Context, slot Slot, value string) error {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.slots[slot] = value
	return nil
}

func (mb *MemoryBackend) Delete(_ context.Context, slots ...Slot) error {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	for _, slot := range slots {
		delete(mb.slots, slot)
	}
	return nil
}
