package credentials

import (
	"context"
	"time"
)

// Slot names one persisted credential value.
type Slot string

const (
	SlotAccessToken  Slot = "access_token"
	SlotRefreshToken Slot = "refresh_token"
	SlotIDToken      Slot = "id_token"
	SlotUsername     Slot = "username"
	SlotTenant       Slot = "tenant"
	// SlotCompany is the legacy tenant slot. It is read as a fallback for
	// SlotTenant and cleared with the rest, but never written.
	SlotCompany Slot = "company"
)

// AllSlots is every slot removed by ClearAll.
var AllSlots = []Slot{SlotAccessToken, SlotRefreshToken, SlotIDToken, SlotUsername, SlotTenant, SlotCompany}

// Backend persists credential slots.
// Get returns errors.ErrSlotNotFound for a slot that holds no value.
type Backend interface {
	Get(ctx context.Context, slot Slot) (string, error)
	Set(ctx context.Context, slot Slot, value string) error
	Delete(ctx context.Context, slots ...Slot) error
}

// RefreshLocker is implemented by backends that several processes share.
// Holding the lock keeps other processes from rotating the same refresh
// token at the same time. The lock expires after ttl if never released.
type RefreshLocker interface {
	LockRefresh(ctx context.Context, ttl time.Duration) (unlock func(), err error)
}
