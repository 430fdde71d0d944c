package raffle

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
	"github.com/merkle-groot/Perpetual-Raffle/internal/metrics"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

// Event is a contract-emitted state-change notification. The payload is
// deliberately not carried: the engine always re-reads contract state
// rather than trusting event fields.
type Event struct {
	Name string
}

// EventSource delivers contract events. The returned channel is closed when
// the underlying subscription fails; the subscriber then resubscribes.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Refresher is the cache surface the subscriber drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Backoff bounds for subscription retries.
const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second
)

// Subscriber keeps the cache fresh by reacting to contract events. Events
// feed a capacity-1 trigger channel consumed by a single refresh loop, so
// notifications arriving within one refresh cycle coalesce into a single
// refresh.
type Subscriber struct {
	cache          Refresher
	source         EventSource
	log            *logger.Logger
	refreshTimeout time.Duration

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewSubscriber creates a subscriber driving the given cache.
func NewSubscriber(cache Refresher, source EventSource, refreshTimeout time.Duration, log *logger.Logger) *Subscriber {
	if refreshTimeout <= 0 {
		refreshTimeout = 15 * time.Second
	}
	return &Subscriber{
		cache:          cache,
		source:         source,
		log:            log,
		refreshTimeout: refreshTimeout,
		kick:           make(chan struct{}, 1),
	}
}

// Start attaches the subscription and begins refreshing on events.
func (s *Subscriber) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.receiveLoop(ctx)
	go s.refreshLoop(ctx)
}

// Close releases the subscription. A closed subscriber never invokes
// another refresh.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Subscriber) receiveLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := backoffBase
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := s.source.Subscribe(ctx)
		if err != nil {
			s.log.WithError(err).Warn("event subscription failed, retrying")
			metrics.RecordReconnect()
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase

		if !s.consume(ctx, events) {
			return
		}
		// stream ended, resubscribe
	}
}

func (s *Subscriber) consume(ctx context.Context, events <-chan Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return true
			}
			metrics.RecordContractEvent(ev.Name)
			s.log.WithField("event", ev.Name).Debug("contract event received")
			select {
			case s.kick <- struct{}{}:
			default:
				// a refresh is already pending, coalesce
			}
		}
	}
}

func (s *Subscriber) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		rctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
		if err := s.cache.Refresh(rctx); err != nil {
			s.log.WithError(err).Warn("event-driven refresh failed")
		}
		cancel()
	}
}

// nextBackoff doubles the interval up to the ceiling, with a little jitter
// so reconnecting clients do not stampede.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > backoffMax {
		next = backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(next / 10)))
	return next + jitter
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// =============================================================================
// Websocket Event Source
// =============================================================================

// LogEventSource subscribes to the raffle contract's SlotsClaimed and
// SlotsRefunded logs over a websocket endpoint.
type LogEventSource struct {
	wsURL    string
	contract common.Address
}

// NewLogEventSource creates a source for the contract at the given address.
func NewLogEventSource(wsURL string, contract common.Address) *LogEventSource {
	return &LogEventSource{wsURL: wsURL, contract: contract}
}

// Subscribe opens the log subscription. The returned channel closes when the
// connection drops or ctx is cancelled.
func (s *LogEventSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub, err := chain.SubscribeLogs(ctx, s.wsURL, s.contract, []common.Hash{
		chain.TopicSlotsClaimed,
		chain.TopicSlotsRefunded,
	})
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case log, ok := <-sub.Logs():
				if !ok {
					return
				}
				name := log.EventName()
				if name == "" {
					continue
				}
				select {
				case events <- Event{Name: name}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
