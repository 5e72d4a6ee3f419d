package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injectable for determinism in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Intended for tests.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// IDGenerator mints entity identifiers.
type IDGenerator interface {
	NewID() uuid.UUID
}

// RandomIDs generates random UUIDs.
type RandomIDs struct{}

func (RandomIDs) NewID() uuid.UUID { return uuid.New() }
