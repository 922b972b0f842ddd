package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/audit"
)

// AuditService records security events asynchronously through a buffered
// channel and a background worker, so request handlers never wait on the sink.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.Event
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // Percentage (0-100)
	lastWarning      atomic.Int64 // Unix nanos of the last depth warning

	// mu guards closed against Record racing Stop.
	mu     sync.RWMutex
	closed bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of events to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending events.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the event buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.auditChan = make(chan audit.Event, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:            store,
		auditChan:        make(chan audit.Event, defaultChannelSize),
		logger:           logger,
		batchSize:        50,
		flushInterval:    time.Second,
		now:              time.Now,
		channelSize:      defaultChannelSize,
		sendTimeout:      50 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker that batches and writes events.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues e for the worker, stamping the time if unset. When the
// buffer is full it waits up to the send timeout, then drops e and counts it.
func (s *AuditService) Record(e audit.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.recordDrop(e)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.auditChan)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.auditChan <- e:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(e)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.auditChan <- e:
	case <-timer.C:
		s.recordDrop(e)
	}
}

func (s *AuditService) recordDrop(e audit.Event) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit event dropped",
		"type", e.Type,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
		)
	}
}

// DroppedEvents returns the total number of dropped events.
func (s *AuditService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the queue, waits for the worker to flush and return.
// Events recorded after Stop are dropped. Safe to call multiple times.
func (s *AuditService) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.auditChan)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Event, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.flush(flushCtx, batch)
	}

	for {
		select {
		case e, ok := <-s.auditChan:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain what is already queued; Stop closes the channel.
			for {
				select {
				case e, ok := <-s.auditChan:
					if !ok {
						finalFlush()
						return
					}
					batch = append(batch, e)
				default:
					finalFlush()
					return
				}
			}
		}
	}
}

// flush writes a batch to the store. Errors are logged, never propagated.
func (s *AuditService) flush(ctx context.Context, batch []audit.Event) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// Compile-time interface verification.
var _ audit.Recorder = (*AuditService)(nil)
