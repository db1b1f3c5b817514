package storage

import (
	"context"
	"sync"
	"time"
)

const anyKey = "*"

// Message announces that the slot under Key was rewritten by the instance Origin.
type Message struct {
	Key       string
	Origin    string
	Timestamp time.Time
}

// Bus carries change messages between slot instances.
type Bus interface {
	Publish(message Message)
	Subscribe(ctx context.Context, key string) (<-chan Message, func())
}

// Broadcaster is an in-process Bus. Delivery is best effort: a full subscriber buffer drops the message.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe streams messages for key until ctx ends or cleanup runs.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan Message, func()) {
	if key == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     b.nextSequence(),
		stream: make(chan Message, b.bufferSize),
	}
	b.register(key, entry)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.unregister(key, entry.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// SubscribeAll streams messages for every key.
func (b *Broadcaster) SubscribeAll(ctx context.Context) (<-chan Message, func()) {
	return b.Subscribe(ctx, anyKey)
}

func (b *Broadcaster) Publish(message Message) {
	if message.Key == "" || message.Origin == "" {
		return
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers[message.Key])+len(b.subscribers[anyKey]))
	for _, entry := range b.subscribers[message.Key] {
		targets = append(targets, entry)
	}
	for _, entry := range b.subscribers[anyKey] {
		targets = append(targets, entry)
	}
	b.mu.RUnlock()
	for _, entry := range targets {
		select {
		case entry.stream <- message:
		default:
		}
	}
}

func (b *Broadcaster) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broadcaster) register(key string, entry *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[int64]*subscriber)
	}
	b.subscribers[key][entry.id] = entry
}

func (b *Broadcaster) unregister(key string, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, key)
		}
	}
	b.mu.Unlock()
}
