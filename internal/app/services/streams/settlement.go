package streams

import (
	"context"
	"sync"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
	"github.com/NStream-Network/stream_layer/internal/app/system"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// TransferResolver decides whether a pending token transfer has settled.
type TransferResolver interface {
	Resolve(ctx context.Context, t stream.Transfer) (done bool, success bool, message string, retryAfter time.Duration, err error)
}

// TimeoutResolver is the resolver of last resort. It issues a failure
// verdict for any transfer still unanswered after the timeout; the failure
// then compensates through the usual path, so a transfer service that goes
// silent cannot hold a stream locked indefinitely.
type TimeoutResolver struct {
	timeout time.Duration
	seen    sync.Map // transfer id -> first sighting
}

func NewTimeoutResolver(timeout time.Duration) *TimeoutResolver {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &TimeoutResolver{timeout: timeout}
}

func (r *TimeoutResolver) Resolve(_ context.Context, t stream.Transfer) (bool, bool, string, time.Duration, error) {
	first, loaded := r.seen.LoadOrStore(t.ID, time.Now())
	if !loaded || time.Since(first.(time.Time)) < r.timeout {
		return false, false, "", r.timeout / 4, nil
	}
	r.seen.Delete(t.ID)
	return true, false, "timeout waiting for transfer confirmation", 0, nil
}

// SettlementPoller sweeps the pending side of the transfer journal and asks
// the resolver for a verdict on each entry, feeding confirmed and failed
// outcomes into ResolveTransfer. It exists for transfer services that never
// call back on their own; services that do can still race it safely, since
// a second verdict for a settled transfer is rejected.
type SettlementPoller struct {
	store    storage.TransferStore
	service  *Service
	resolver TransferResolver
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	retryAt map[string]time.Time
}

var _ system.Service = (*SettlementPoller)(nil)

func NewSettlementPoller(store storage.TransferStore, service *Service, resolver TransferResolver, log *logger.Logger) *SettlementPoller {
	if log == nil {
		log = logger.NewDefault("stream-settlement")
	}
	if resolver == nil {
		resolver = NewTimeoutResolver(2 * time.Minute)
	}
	return &SettlementPoller{
		store:    store,
		service:  service,
		resolver: resolver,
		interval: 15 * time.Second,
		log:      log,
		retryAt:  make(map[string]time.Time),
	}
}

func (p *SettlementPoller) Name() string { return "stream-settlement" }

func (p *SettlementPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("stream settlement poller started")
	return nil
}

func (p *SettlementPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *SettlementPoller) tick(ctx context.Context) {
	pending, err := p.store.ListPendingTransfers(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list pending transfers failed")
		return
	}

	now := time.Now()
	for _, t := range pending {
		if !p.due(t.ID, now) {
			continue
		}

		done, success, message, retryAfter, err := p.resolver.Resolve(ctx, t)
		if err != nil {
			p.log.WithError(err).Warnf("resolver error for transfer %s", t.ID)
			p.deferRetry(t.ID, retryAfter)
			continue
		}
		if !done {
			p.deferRetry(t.ID, retryAfter)
			continue
		}

		if p.service == nil {
			p.log.Warnf("no streams service attached; cannot settle %s", t.ID)
			continue
		}
		if _, _, err := p.service.ResolveTransfer(ctx, t.ID, success, message); err != nil {
			// settle is retryable; the entry stays pending and comes back
			// on the next sweep
			p.log.WithError(err).Warnf("resolve transfer %s failed", t.ID)
			p.deferRetry(t.ID, retryAfter)
			continue
		}
		p.log.Infof("transfer %s settled (success=%t)", t.ID, success)
		p.forget(t.ID)
	}
}

func (p *SettlementPoller) due(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.retryAt[id]
	return !ok || now.After(at)
}

func (p *SettlementPoller) deferRetry(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.retryAt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

func (p *SettlementPoller) forget(id string) {
	p.mu.Lock()
	delete(p.retryAt, id)
	p.mu.Unlock()
}
