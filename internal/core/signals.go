package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signal names emitted by the sync engine.
const (
	SignalTagSynced      = "tag:synced"
	SignalTagSyncError   = "tag:sync:error"
	SignalTaskSynced     = "task:synced"
	SignalTaskSyncError  = "task:sync:error"
	SignalIssueSynced    = "issue:synced"
	SignalIssueSyncError = "issue:sync:error"
	SignalCycle          = "sync:cycle"
)

// Signal is a fire-and-forget notification. Only the fields relevant to
// Name are set.
type Signal struct {
	ID        string
	Name      string
	Time      time.Time
	TagName   string
	TaskID    string
	IssueKey  string
	TaskCount int
	Err       error
}

// IsError reports whether the signal reports a failure.
func (s Signal) IsError() bool { return s.Err != nil }

// SignalBus is a channel-based pub-sub bus keyed by signal name.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Signal
	allSubs []chan Signal
	closed  bool
}

// NewSignalBus creates an open bus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan Signal)}
}

const defaultSignalBuffer = 256

// Subscribe returns a channel that receives signals published under name.
// bufSize <= 0 selects the default buffer.
func (b *SignalBus) Subscribe(name string, bufSize int) <-chan Signal {
	if bufSize <= 0 {
		bufSize = defaultSignalBuffer
	}
	ch := make(chan Signal, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[name] = append(b.subs[name], ch)
	return ch
}

// SubscribeAll returns a channel that receives every signal.
func (b *SignalBus) SubscribeAll(bufSize int) <-chan Signal {
	if bufSize <= 0 {
		bufSize = defaultSignalBuffer
	}
	ch := make(chan Signal, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish delivers sig to every matching subscriber without blocking.
// A subscriber whose buffer is full misses the signal.
func (b *SignalBus) Publish(sig Signal) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Time.IsZero() {
		sig.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[sig.Name] {
		select {
		case ch <- sig:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Close closes every subscriber channel. Calling it twice is safe.
func (b *SignalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
