// Package status holds the latest controller snapshot for readers outside the loop.
package status

import (
	"sync"
	"time"

	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
)

// Counters are cumulative per-run totals.
type Counters struct {
	Frames           uint64 `json:"frames"`
	SkippedFrames    uint64 `json:"skipped_frames"`
	ProbeErrors      uint64 `json:"probe_errors"`
	DetectErrors     uint64 `json:"detect_errors"`
	ResolveFailures  uint64 `json:"resolve_failures"`
	DeliveryErrors   uint64 `json:"delivery_errors"`
	SpeedUp          uint64 `json:"speed_up"`
	SlowDown         uint64 `json:"slow_down"`
	Delivered        uint64 `json:"delivered"`
	PermissionDenied uint64 `json:"permission_denied"`
	NoSuchProcess    uint64 `json:"no_such_process"`
	Detections       uint64 `json:"detections"`
	Geotagged        uint64 `json:"geotagged"`
}

// Snapshot is the controller state after the most recent frame.
type Snapshot struct {
	RunID           string                   `json:"run_id,omitempty"`
	State           string                   `json:"state"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Frequency       freqprobe.Sample         `json:"frequency"`
	Latency         controller.LatencySample `json:"latency"`
	ThresholdMS     float64                  `json:"threshold_ms"`
	Signal          string                   `json:"signal,omitempty"`
	Outcome         string                   `json:"outcome,omitempty"`
	ActuatorPID     int                      `json:"actuator_pid,omitempty"`
	ActuatorError   string                   `json:"actuator_error,omitempty"`
	FPS             float64                  `json:"fps"`
	WindowFrames    int                      `json:"window_frames"`
	WindowRemaining time.Duration            `json:"window_remaining_ns"`
	Counters        Counters                 `json:"counters"`
}

// Board caches the latest snapshot and fans updates out to subscribers. Slow
// subscribers lose intermediate snapshots, never the newest one.
type Board struct {
	mu          sync.RWMutex
	latest      Snapshot
	published   bool
	closed      bool
	subscribers map[*subscriber]struct{}
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{subscribers: make(map[*subscriber]struct{})}
}

// Publish stores snap as the latest snapshot and notifies subscribers.
func (b *Board) Publish(snap Snapshot) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest = snap
	b.published = true

	targets := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.send(snap)
	}
}

// Latest returns the most recent snapshot, if any was published.
func (b *Board) Latest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.published
}

// Ready reports whether the loop has published at least once.
func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published
}

// Subscribe registers a listener. The current snapshot, if any, is delivered
// immediately. The channel is closed by the returned function or by Close.
func (b *Board) Subscribe() (<-chan Snapshot, func()) {
	sub := newSubscriber()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.channel(), func() {}
	}
	b.subscribers[sub] = struct{}{}
	if b.published {
		sub.send(b.latest)
	}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
		sub.close()
	}
	return sub.channel(), unsubscribe
}

// Close ends every subscription. Later publishes are ignored.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, sub)
	}
}

type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Snapshot, 1)}
}

func (s *subscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *subscriber) send(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
		// Replace the unread snapshot.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
