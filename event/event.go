// Package event carries notifications between the scanner, the archive
// manager and their external collaborators.
//
// Collaborators publish [DownloadStarted] and [DownloadFinished] so the
// scanner can yield disk I/O to large transfers; the core publishes
// [ScanCompleted] and [ArchiveFailed] for progress and failure reporting.
package event

import (
	"sync"
	"time"

	"github.com/meigma/assetcache/internal/metrics"
)

// Kind identifies a message type.
type Kind uint8

const (
	DownloadStarted Kind = iota + 1
	DownloadFinished
	ScanCompleted
	ArchiveFailed
)

func (k Kind) String() string {
	switch k {
	case DownloadStarted:
		return "download started"
	case DownloadFinished:
		return "download finished"
	case ScanCompleted:
		return "scan completed"
	case ArchiveFailed:
		return "archive failed"
	default:
		return "unknown"
	}
}

// Message is a single notification. Fields beyond Kind and Time are set
// according to the kind.
type Message struct {
	Kind Kind
	Time time.Time

	// Path is the archive file for ArchiveFailed.
	Path string
	// Target is the character the archive was applied to.
	Target string
	// ExpectedLength is the declared payload length of the archive.
	ExpectedLength int64
	// Err is the failure reason for ArchiveFailed.
	Err error

	// TotalFiles, Removed and Added summarize a completed scan pass.
	TotalFiles int
	Removed    int
	Added      int
}

const defaultBuffer = 64

// Reliable reports whether messages of kind k must reach every subscriber.
// Download notifications pair up into suspend and resume; losing either half
// would leave the scanner suspended.
func (k Kind) Reliable() bool {
	return k == DownloadStarted || k == DownloadFinished
}

type subscriber struct {
	ch   chan Message
	done chan struct{}
}

// Bus fans messages out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer (0 uses
// the default). The returned function unsubscribes and closes the channel.
// A subscriber must keep reading until it unsubscribes, since reliable
// messages wait for buffer space.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{
		ch:   make(chan Message, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			// Release publishers blocked on this subscriber before
			// taking the write lock they are holding off.
			close(sub.done)
			b.mu.Lock()
			delete(b.subscribers, sub)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}

// Publish sends msg to every subscriber. Reliable kinds block until each
// subscriber has buffer space or unsubscribes; other kinds are dropped for
// subscribers whose buffer is full.
func (b *Bus) Publish(msg Message) {
	if b == nil {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	reliable := msg.Kind.Reliable()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if reliable {
			select {
			case sub.ch <- msg:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			metrics.RecordDroppedEvent()
		}
	}
}

// Count returns the number of subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
