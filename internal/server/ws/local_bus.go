package ws

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// LocalBus is an in-process domain.SignalBus used when Redis is not
// configured. Events reach only the subscribers of this process.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every subscriber of channel. Slow subscribers
// miss messages rather than block the publisher.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, chans := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. A trailing
// "*" matches every channel with that prefix. The returned channel is closed
// when ctx ends.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		close(ch)
	}()

	return ch, nil
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// Compile-time interface check.
var _ domain.SignalBus = (*LocalBus)(nil)
