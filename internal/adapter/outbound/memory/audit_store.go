package memory

import (
	"context"
	"sync"

	"github.com/codetutor/tutorgate/internal/domain/audit"
)

const defaultAuditLogSize = 1000

// AuditLog keeps the most recent audit events in a fixed-size ring. It
// serves as an audit.Store behind the audit service and as a synchronous
// audit.Recorder.
type AuditLog struct {
	mu    sync.Mutex
	ring  []audit.Event
	next  int
	count int
}

// NewAuditLog returns a log holding up to size events. A non-positive size
// selects the default of 1000.
func NewAuditLog(size int) *AuditLog {
	if size <= 0 {
		size = defaultAuditLogSize
	}
	return &AuditLog{ring: make([]audit.Event, size)}
}

func (l *AuditLog) Append(_ context.Context, events ...audit.Event) error {
	l.mu.Lock()
	for _, e := range events {
		l.push(e)
	}
	l.mu.Unlock()
	return nil
}

func (l *AuditLog) Record(e audit.Event) {
	l.mu.Lock()
	l.push(e)
	l.mu.Unlock()
}

func (l *AuditLog) push(e audit.Event) {
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
}

func (l *AuditLog) Close() error { return nil }

// Recent returns up to n events, newest first. A non-empty eventType
// restricts the result to that type.
func (l *AuditLog) Recent(n int, eventType audit.EventType) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []audit.Event
	for i := 1; i <= l.count && len(out) < n; i++ {
		e := l.ring[(l.next-i+len(l.ring))%len(l.ring)]
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}

var (
	_ audit.Store    = (*AuditLog)(nil)
	_ audit.Recorder = (*AuditLog)(nil)
)
