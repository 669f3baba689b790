package local

import (
	"context"
	"sync"

	"github.com/TheFokysnik/EcoTaleQuests/metrics"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscriber struct {
	ch chan *LocalMessage
}

// LocalPubSub fans messages out to every subscriber of a channel. A
// subscriber whose buffer is full misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscriber]struct{}),
		bufSize: bufSize,
	}
}

// Publish never blocks.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	ps.deliver(channel, message)
	return nil
}

// deliver reports how many subscribers received the message.
func (ps *LocalPubSub) deliver(channel, message string) int {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	n := 0
	for sub := range ps.subs[channel] {
		select {
		case sub.ch <- msg:
			n++
		default:
			metrics.PubSubDropped.Inc()
		}
	}
	return n
}

// Subscribers reports how many subscriptions listen on channel.
func (ps *LocalPubSub) Subscribers(channel string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[channel])
}

// Subscribe returns one channel carrying messages for all given channels.
// The subscription ends when ctx is done or the cancel func is called,
// whichever comes first; cancel may be called more than once.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	sub := &subscriber{ch: make(chan *LocalMessage, ps.bufSize)}

	ps.mu.Lock()
	for _, name := range channels {
		set, ok := ps.subs[name]
		if !ok {
			set = make(map[*subscriber]struct{})
			ps.subs[name] = set
		}
		set[sub] = struct{}{}
	}
	ps.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for _, name := range channels {
				delete(ps.subs[name], sub)
				if len(ps.subs[name]) == 0 {
					delete(ps.subs, name)
				}
			}
			close(sub.ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}
