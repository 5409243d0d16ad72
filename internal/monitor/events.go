package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
)

// EventType names a batch progress event.
type EventType string

const (
	EventBatchStarted   EventType = "batch_started"
	EventSiteChecked    EventType = "site_checked"
	EventBatchCompleted EventType = "batch_completed"
)

// Event is one progress notification. Result is set for site_checked,
// Report for batch_completed.
type Event struct {
	Type    EventType
	BatchID string
	Index   int // 1-based position of the site in the batch
	Total   int
	Result  *checker.Result
	Report  *Report
	At      time.Time
}

// Subscriber receives events on a buffered channel.
type Subscriber struct {
	ID     string
	Events chan Event
}

// Broadcaster fans progress events out to subscribers.
type Broadcaster struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber. An empty id gets a generated one.
func (b *Broadcaster) Subscribe(id string, buffer int) *Subscriber {
	if id == "" {
		id = uuid.NewString()
	}
	if buffer <= 0 {
		buffer = 256
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{ID: id, Events: make(chan Event, buffer)}
	if old, ok := b.subscribers[id]; ok {
		close(old.Events)
	}
	b.subscribers[id] = sub
	b.logger.Debug().Str("subscriber", id).Int("total", len(b.subscribers)).Msg("[Events] Subscriber added")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
		b.logger.Debug().Str("subscriber", id).Int("total", len(b.subscribers)).Msg("[Events] Subscriber removed")
	}
}

// Publish delivers ev to every subscriber without blocking; a full channel drops the event.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subscribers) == 0 {
		return
	}

	dropped := 0
	for id, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
			dropped++
			b.logger.Warn().Str("subscriber", id).Str("event", string(ev.Type)).Msg("[Events] Subscriber channel full, dropping event")
		}
	}
	if dropped > 0 {
		b.logger.Debug().Int("dropped", dropped).Int("total", len(b.subscribers)).Msg("[Events] Publish completed")
	}
}
