package cart

import (
	"context"
	"sync"

	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/model"
)

// backgroundSync pushes a locally loaded cart to the server once it is
// reachable again. Failures are logged and counted, never shown.
type backgroundSync struct {
	store *Store

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func newBackgroundSync(s *Store) *backgroundSync {
	return &backgroundSync{store: s}
}

// start launches one sync of local unless one is already running
func (b *backgroundSync) start(local *model.Cart) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running || b.store.ctx.Err() != nil {
		return
	}
	b.running = true
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
		}()
		b.run(b.store.ctx, local)
	}()
}

func (b *backgroundSync) run(ctx context.Context, local *model.Cart) {
	s := b.store

	if err := s.api.SyncCart(ctx, local); err != nil {
		s.metrics.ObserveCartSync(metrics.OutcomeFailure)
		logger.Warn("Background cart sync failed", logger.F("error", err))
		return
	}

	// Silent refetch, no loading indicator and no error on failure
	seq := s.next()
	cart, err := s.api.GetCart(ctx)
	if err != nil {
		s.metrics.ObserveCartSync(metrics.OutcomeFailure)
		logger.Warn("Reload after cart sync failed", logger.F("error", err))
		return
	}

	if s.apply(ctx, seq, cart) {
		s.metrics.ObserveCartSync(metrics.OutcomeSuccess)
	} else {
		s.metrics.ObserveCartSync(metrics.OutcomeStale)
	}
	logger.Info("Local cart synced", logger.F("items", model.TotalItems(cart)))
}

func (b *backgroundSync) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *backgroundSync) wait() {
	b.wg.Wait()
}
