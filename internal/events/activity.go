package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultActivityLogSize entries retained.
	DefaultActivityLogSize = 50
	// DefaultActivityShown entries displayed.
	DefaultActivityShown = 15
)

// ActivityLog bounded FIFO of user-facing activity entries. Every entry is mirrored to the logger.
type ActivityLog struct {
	l    *zap.Logger
	now  func() time.Time
	size int

	mu      sync.RWMutex
	entries []domain.ActivityEntry
}

// NewActivityLog creates a log retaining at most size entries.
func NewActivityLog(l *zap.Logger, size int) *ActivityLog {
	if l == nil {
		l = zap.NewNop()
	}
	if size < 1 {
		size = DefaultActivityLogSize
	}
	return &ActivityLog{
		l:       l,
		now:     time.Now,
		size:    size,
		entries: make([]domain.ActivityEntry, 0, size),
	}
}

// Add appends an entry, evicting the oldest one when full.
func (a *ActivityLog) Add(category domain.ActivityCategory, message string) {
	entry := domain.ActivityEntry{Time: a.now(), Category: category, Message: message}

	a.mu.Lock()
	if len(a.entries) == a.size {
		copy(a.entries, a.entries[1:])
		a.entries = a.entries[:a.size-1]
	}
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	a.mirror(entry)
}

// Recent returns up to n newest entries, oldest first.
func (a *ActivityLog) Recent(n int) []domain.ActivityEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]domain.ActivityEntry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

// Len number of retained entries.
func (a *ActivityLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *ActivityLog) mirror(e domain.ActivityEntry) {
	fields := []zap.Field{zap.String("category", string(e.Category))}
	switch e.Category {
	case domain.ActivityError:
		a.l.Error(e.Message, fields...)
	case domain.ActivityTrace:
		a.l.Debug(e.Message, fields...)
	default:
		a.l.Info(e.Message, fields...)
	}
}
