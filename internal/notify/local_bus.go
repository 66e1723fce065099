package notify

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// LocalBus is an in-process domain.SignalBus for single-instance deployments
// without Redis. Slow subscribers miss messages rather than block publishers.
type LocalBus struct {
	mu      sync.Mutex
	subs    map[int]localSub
	next    int
	streams map[string][]domain.StreamMessage
	seq     int64
	maxLen  int
}

type localSub struct {
	pattern string
	ch      chan []byte
}

// NewLocalBus creates a LocalBus keeping at most maxLen entries per stream.
func NewLocalBus(maxLen int) *LocalBus {
	return &LocalBus{
		subs:    make(map[int]localSub),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a glob pattern. The channel closes when ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = localSub{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload, trimming the stream to maxLen.
func (b *LocalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s := append(b.streams[stream], domain.StreamMessage{ID: strconv.FormatInt(b.seq, 10), Payload: payload})
	if b.maxLen > 0 && len(s) > b.maxLen {
		s = s[len(s)-b.maxLen:]
	}
	b.streams[stream] = s
	return nil
}

// StreamRead returns up to count entries after lastID ("0" or "" for the
// beginning). It never blocks.
func (b *LocalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseInt(lastID, 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// Subscribers returns the number of live subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
