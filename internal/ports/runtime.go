package ports

import (
	"context"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Locker grants exclusive ownership of a key until release is called. Acquire blocks
// until the key is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type Identity struct {
	Subject string
	Role    string
}

// IdentityVerifier resolves a bearer credential to the calling principal.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
