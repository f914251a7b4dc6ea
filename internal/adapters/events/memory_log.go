package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/viralforge/chainraise/internal/contracts"
)

const maxPageSize = 500

// MemoryLog is the append-only event log observers read from. Entries are numbered
// from 1 in publish order; redelivered envelopes are ignored by event id.
type MemoryLog struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	entries []contracts.EventLogEntry
	seen    map[string]struct{}
	subs    map[int]chan contracts.EventLogEntry
	nextSub int
}

func NewMemoryLog(logger *slog.Logger) *MemoryLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryLog{
		logger: logger,
		seen:   make(map[string]struct{}),
		subs:   make(map[int]chan contracts.EventLogEntry),
	}
}

func (l *MemoryLog) Publish(ctx context.Context, eventType string, payload []byte, _ string) error {
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", eventType, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[env.EventID]; dup {
		return nil
	}
	l.seen[env.EventID] = struct{}{}
	entry := contracts.EventLogEntry{Sequence: uint64(len(l.entries)) + 1, Event: env}
	l.entries = append(l.entries, entry)
	for id, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			l.logger.WarnContext(ctx, "event log subscriber lagging, entry dropped",
				"module", "events.memory_log",
				"layer", "adapter",
				"operation", "fan_out",
				"outcome", "dropped",
				"subscriber", id,
				"sequence", entry.Sequence,
			)
		}
	}
	return nil
}

// List returns up to limit entries with Sequence > after, and the cursor to pass next.
func (l *MemoryLog) List(after uint64, limit int) ([]contracts.EventLogEntry, uint64) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if after >= uint64(len(l.entries)) {
		return []contracts.EventLogEntry{}, after
	}
	end := after + uint64(limit)
	if end > uint64(len(l.entries)) {
		end = uint64(len(l.entries))
	}
	out := append([]contracts.EventLogEntry(nil), l.entries[after:end]...)
	return out, end
}

// Subscribe delivers entries appended after the call. A subscriber that falls more
// than buffer entries behind misses entries and should catch up through List.
func (l *MemoryLog) Subscribe(buffer int) (<-chan contracts.EventLogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan contracts.EventLogEntry, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
