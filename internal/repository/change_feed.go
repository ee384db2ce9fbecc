package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ChangeChannel is the LISTEN/NOTIFY channel the shared_documents trigger publishes on.
// Payloads are "<collection>:<pair_id>".
const ChangeChannel = "shared_document_changes"

// ChangeFeed turns PostgreSQL notifications into per-subscription re-queries.
// One connection listens for all subscribers.
type ChangeFeed struct {
	pool           *pgxpool.Pool
	reconnectDelay time.Duration

	mu   sync.Mutex
	subs map[*feedSubscription]struct{}
}

type feedSubscription struct {
	collection string
	pairID     string
	signal     chan struct{}
	errs       chan error
}

// NewChangeFeed creates a change feed. Call Run to start listening.
func NewChangeFeed(pool *pgxpool.Pool, reconnectDelay time.Duration) *ChangeFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &ChangeFeed{
		pool:           pool,
		reconnectDelay: reconnectDelay,
		subs:           make(map[*feedSubscription]struct{}),
	}
}

// Run listens until ctx is cancelled, reconnecting after failures
func (f *ChangeFeed) Run(ctx context.Context) error {
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}

		log.Error().Err(err).Dur("retry_in", f.reconnectDelay).Msg("Change feed disconnected")
		f.broadcastError(fmt.Errorf("change feed disconnected: %w", err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info().Str("channel", ChangeChannel).Msg("Change feed listening")

	// Anything committed while disconnected was missed
	f.signalAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		collection, pairID, ok := strings.Cut(n.Payload, ":")
		if !ok {
			log.Warn().Str("payload", n.Payload).Msg("Ignoring malformed change notification")
			continue
		}
		f.signal(collection, pairID)
	}
}

// Subscribe starts a goroutine that delivers fetch results to onChange
// initially and after every matching notification. The goroutine exits when
// ctx is cancelled or the returned Unsubscribe is called.
func (f *ChangeFeed) Subscribe(
	ctx context.Context,
	collection, pairID string,
	fetch func(context.Context) ([]*Document, error),
	onChange func([]*Document),
	onError func(error),
) Unsubscribe {
	sub := &feedSubscription{
		collection: collection,
		pairID:     pairID,
		signal:     make(chan struct{}, 1),
		errs:       make(chan error, 1),
	}
	sub.signal <- struct{}{}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer f.remove(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.errs:
				onError(err)
			case <-sub.signal:
				docs, err := fetch(ctx)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					onError(err)
					continue
				}
				onChange(docs)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

// SubscriberCount returns the number of live subscriptions
func (f *ChangeFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *ChangeFeed) remove(sub *feedSubscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

func (f *ChangeFeed) signal(collection, pairID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if sub.collection == collection && sub.pairID == pairID {
			notify(sub.signal, struct{}{})
		}
	}
}

func (f *ChangeFeed) signalAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		notify(sub.signal, struct{}{})
	}
}

func (f *ChangeFeed) broadcastError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		notify(sub.errs, err)
	}
}

// notify sends without blocking. A pending value already covers the new one.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
