// Package events provides an in-process bus for compaction run notifications.
package events

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Kind is the type of a run notification.
type Kind int

const (
	RunStarted Kind = iota
	RunSucceeded
	RunFailed
)

func (k Kind) String() string {
	switch k {
	case RunStarted:
		return "started"
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification describes one transition of a compaction run.
type Notification struct {
	Kind      Kind
	Job       string
	RunID     string
	TotalRows int64
	Err       string
	Timestamp int64
}

// Subscriber receives notifications for jobs matching one of its prefixes.
type Subscriber struct {
	ID       string
	Prefixes []string
	Ch       chan Notification
}

// Notifier fans notifications out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// notifications.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends n to every matching subscriber. It never blocks: a full
// subscriber misses the notification.
func (n *Notifier) Publish(notif Notification) {
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if matches(sub.Prefixes, notif.Job) {
			select {
			case sub.Ch <- notif:
			default:
			}
		}
		return true
	})
}

// Subscribe registers a subscriber for jobs whose name starts with one of
// prefixes. No prefixes means every job.
func (n *Notifier) Subscribe(prefixes ...string) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		Prefixes: prefixes,
		Ch:       make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscriber).Ch)
	}
}

func matches(prefixes []string, job string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(job, p) {
			return true
		}
	}
	return false
}
